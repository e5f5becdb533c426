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
	"fmt"
	"reflect"
	"sync"
)

// Handler is the raw form a registered method ultimately takes: given a
// connection-scoped context and the request's params verbatim, it returns a
// JSON-marshalable result or an error. Most callers register a Go function
// instead and let TypedHandler build this for them.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// TypedHandler adapts fn, a function of the shape
//
//	func(ctx context.Context, args P) (R, error)
//
// into a Handler that decodes params into a fresh P and reports
// InvalidParams if decoding fails. P and R may be any JSON-marshalable type;
// P may also be a pointer type.
func TypedHandler(fn interface{}) Handler {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 2 || ft.NumOut() != 2 {
		panic("jrow: TypedHandler requires func(context.Context, P) (R, error)")
	}
	argType := ft.In(1)
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		argPtr := reflect.New(argType)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, argPtr.Interface()); err != nil {
				return nil, &invalidParamsError{fmt.Sprintf("invalid params: %v", err)}
			}
		}
		out := fv.Call([]reflect.Value{reflect.ValueOf(ctx), argPtr.Elem()})
		if errv := out[1].Interface(); errv != nil {
			return nil, errv.(error)
		}
		return out[0].Interface(), nil
	}
}

// serviceRegistry maps method names to handlers. One registry is shared by
// every connection a Server accepts; registration happens before ServeConn, so
// no locking is needed for the common case, but the mutex guards against a
// server that registers methods after accepting its first connection.
type serviceRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newServiceRegistry() *serviceRegistry {
	return &serviceRegistry{handlers: make(map[string]Handler)}
}

// register adds or replaces the handler for method.
func (r *serviceRegistry) register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// lookup returns the handler registered for method, or nil if none is.
func (r *serviceRegistry) lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// call invokes the handler registered for msg.Method, translating its result
// or error into the matching response message. It never returns a nil
// message: method-not-found and panics inside the handler both produce an
// error response.
func (r *serviceRegistry) call(ctx context.Context, msg *message) (res *message) {
	h, ok := r.lookup(msg.Method)
	if !ok {
		return msg.errorResponse(&methodNotFoundError{msg.Method})
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = msg.errorResponse(&internalError{fmt.Sprintf("panic in handler %q: %v", msg.Method, rec)})
		}
	}()
	result, err := h(ctx, msg.Params)
	if err != nil {
		return msg.errorResponse(err)
	}
	return msg.response(result)
}
