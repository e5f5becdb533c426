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
	"encoding/json"
	"testing"
)

type addArgs struct {
	A, B int
}

func TestTypedHandlerDecodesParams(t *testing.T) {
	h := TypedHandler(func(ctx context.Context, args addArgs) (int, error) {
		return args.A + args.B, nil
	})
	result, err := h(context.Background(), json.RawMessage(`{"A":2,"B":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.(int) != 5 {
		t.Errorf("got %v, want 5", result)
	}
}

func TestTypedHandlerInvalidParams(t *testing.T) {
	h := TypedHandler(func(ctx context.Context, args addArgs) (int, error) {
		return args.A + args.B, nil
	})
	_, err := h(context.Background(), json.RawMessage(`not json`))
	if err == nil {
		t.Fatal("expected an error for malformed params")
	}
	if _, ok := err.(*invalidParamsError); !ok {
		t.Errorf("expected *invalidParamsError, got %T", err)
	}
}

func TestServiceRegistryMethodNotFound(t *testing.T) {
	reg := newServiceRegistry()
	msg := &message{Version: vsn, ID: json.RawMessage("1"), Method: "missing"}
	resp := reg.call(context.Background(), msg)
	if resp.Error == nil || resp.Error.Code != errCodeMethodNotFound {
		t.Errorf("unexpected response: %#v", resp)
	}
}

func TestServiceRegistryCallSuccess(t *testing.T) {
	reg := newServiceRegistry()
	reg.register("add", TypedHandler(func(ctx context.Context, args addArgs) (int, error) {
		return args.A + args.B, nil
	}))
	msg := &message{Version: vsn, ID: json.RawMessage("1"), Method: "add", Params: json.RawMessage(`{"A":4,"B":5}`)}
	resp := reg.call(context.Background(), msg)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var got int
	if err := json.Unmarshal(resp.Result, &got); err != nil || got != 9 {
		t.Errorf("got %s (err %v), want 9", resp.Result, err)
	}
}

func TestServiceRegistryRecoversPanic(t *testing.T) {
	reg := newServiceRegistry()
	reg.register("boom", Handler(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		panic("kaboom")
	}))
	msg := &message{Version: vsn, ID: json.RawMessage("1"), Method: "boom"}
	resp := reg.call(context.Background(), msg)
	if resp.Error == nil || resp.Error.Code != errCodeInternal {
		t.Errorf("expected internal error response, got %#v", resp)
	}
}
