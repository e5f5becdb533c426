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

import "context"

// Next is called by a Middleware to pass a request/notification down to the
// remainder of the pipeline. Calling it is what makes continuation
// explicit: a Middleware that never calls Next short-circuits everything
// after it, including the handler itself.
type Next func(ctx context.Context, msg *message) *message

// Middleware wraps one layer of the onion around method dispatch. msg is the
// inbound call or notification; next returns nil for a notification, since
// notifications produce no response. Middleware that only cares about calls
// can check msg.isCall() before deciding to act.
type Middleware func(ctx context.Context, msg *message, next Next) *message

// chain composes middlewares, in the order given, around a terminal Next
// that performs the actual dispatch. The first middleware in the slice is
// outermost: it sees the request first and the response last.
func chain(mws []Middleware, terminal Next) Next {
	next := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(ctx context.Context, msg *message) *message {
			return mw(ctx, msg, inner)
		}
	}
	return next
}

// Recover is a Middleware that converts a panic anywhere further down the
// pipeline into an internal-error response instead of letting it escape and
// take the connection's dispatch goroutine down with it. serviceRegistry.call
// already recovers panics from within a single handler; Recover additionally
// guards middleware code that runs outside that call.
func Recover() Middleware {
	return func(ctx context.Context, msg *message, next Next) (res *message) {
		defer func() {
			if rec := recover(); rec != nil {
				if msg != nil {
					res = msg.errorResponse(&internalError{"panic in middleware pipeline"})
				}
			}
		}()
		return next(ctx, msg)
	}
}
