// Copyright 2015 The go-ethereum Authors
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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityConfig selects the tracer/meter backing a Server or Client.
// The zero value runs fully no-op, matching spec §4.8's "a no-op
// implementation is the default".
type ObservabilityConfig struct {
	// ServiceName is attached to every span as a resource-level attribute
	// by callers that build Tracer from a real otel TracerProvider; this
	// package does not itself configure a TracerProvider or exporter
	// (out of scope, see SPEC_FULL.md §2).
	ServiceName string
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// observability is the resolved, always-usable surface built from an
// ObservabilityConfig. It fills in no-op implementations for whatever the
// caller left nil.
type observability struct {
	tracer trace.Tracer

	callsInFlight  metric.Int64UpDownCounter
	callsCompleted metric.Int64Counter
	errorsByCode   metric.Int64Counter
	publishes      metric.Int64Counter
	activeSubs     metric.Int64UpDownCounter
}

func newObservability(cfg ObservabilityConfig) *observability {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("jrow")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = metric.NewNoopMeterProvider().Meter("jrow")
	}
	o := &observability{tracer: tracer}
	o.callsInFlight, _ = meter.Int64UpDownCounter("jrow.calls.in_flight")
	o.callsCompleted, _ = meter.Int64Counter("jrow.calls.completed")
	o.errorsByCode, _ = meter.Int64Counter("jrow.calls.errors")
	o.publishes, _ = meter.Int64Counter("jrow.pubsub.publishes")
	o.activeSubs, _ = meter.Int64UpDownCounter("jrow.pubsub.active_subscriptions")
	return o
}

// dispatchSpan opens a span around a single dispatched request/notification.
// The returned func must be called with the outcome once dispatch finishes.
func (o *observability) dispatchSpan(ctx context.Context, method, id, connection string) (context.Context, func(outcome string, errCode int)) {
	o.callsInFlight.Add(ctx, 1)
	ctx, span := o.tracer.Start(ctx, "jrow.dispatch",
		trace.WithAttributes(
			attribute.String("jrow.method", method),
			attribute.String("jrow.id", id),
			attribute.String("jrow.connection", connection),
		),
	)
	return ctx, func(outcome string, errCode int) {
		o.callsInFlight.Add(ctx, -1)
		o.callsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("jrow.outcome", outcome)))
		if errCode != 0 {
			o.errorsByCode.Add(ctx, 1, metric.WithAttributes(attribute.Int("jrow.error_code", errCode)))
		}
		span.SetAttributes(attribute.String("jrow.outcome", outcome))
		if errCode != 0 {
			span.SetAttributes(attribute.Int("jrow.error_code", errCode))
		}
		span.End()
	}
}

// subscriptionDeliverySpan opens a span around a single pub/sub delivery to
// one subscriber.
func (o *observability) subscriptionDeliverySpan(ctx context.Context, topic string) (context.Context, func(err error)) {
	ctx, span := o.tracer.Start(ctx, "jrow.subscription.deliver",
		trace.WithAttributes(attribute.String("jrow.topic", topic)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (o *observability) publishCount(ctx context.Context, topicPrefix string, n int) {
	o.publishes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("jrow.topic_prefix", topicPrefix)))
}

func (o *observability) subscriptionDelta(ctx context.Context, delta int64) {
	o.activeSubs.Add(ctx, delta)
}
