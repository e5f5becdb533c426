// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package jrow

import (
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDispatchSpanRecordsOutcome(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	obs := newObservability(ObservabilityConfig{Tracer: tp.Tracer("jrow-test")})

	ctx, end := obs.dispatchSpan(context.Background(), "add", "1", "conn-1")
	end("error", errCodeMethodNotFound)
	_ = ctx

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1: %s", len(spans), spew.Sdump(spans))
	}
	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "jrow.outcome" && attr.Value.AsString() == "error" {
			found = true
		}
	}
	if !found {
		t.Errorf("span missing jrow.outcome=error attribute: %s", spew.Sdump(spans[0].Attributes))
	}
}

func TestNoopObservabilityDoesNotPanic(t *testing.T) {
	obs := newObservability(ObservabilityConfig{})
	ctx, end := obs.dispatchSpan(context.Background(), "add", "1", "")
	end("ok", 0)
	_ = ctx
	obs.publishCount(context.Background(), "orders", 3)
	obs.subscriptionDelta(context.Background(), 1)
}
