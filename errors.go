// Copyright 2018 The go-ethereum Authors
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

import "fmt"

// errorCoder is implemented by errors that carry a JSON-RPC error code.
// Errors which don't implement it are reported as -32603 (internal error).
type errorCoder interface {
	error
	ErrorCode() int
}

// dataErrorer is implemented by errors that carry additional structured data
// for the error object's "data" field.
type dataErrorer interface {
	error
	ErrorData() interface{}
}

// parseError is returned when a frame cannot be decoded at all.
type parseError struct{ message string }

func (e *parseError) ErrorCode() int { return errCodeParse }
func (e *parseError) Error() string  { return e.message }

// invalidRequestError is returned when a frame decodes but violates the
// JSON-RPC 2.0 envelope shape.
type invalidRequestError struct{ message string }

func (e *invalidRequestError) ErrorCode() int { return errCodeInvalidRequest }
func (e *invalidRequestError) Error() string  { return e.message }

// methodNotFoundError is returned when no handler is registered for a
// method and no middleware short-circuits the call.
type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) ErrorCode() int { return errCodeMethodNotFound }
func (e *methodNotFoundError) Error() string  { return fmt.Sprintf("the method %s does not exist", e.method) }

// invalidParamsError is returned when a handler's params cannot be decoded
// into the shape its typed adapter expects.
type invalidParamsError struct{ message string }

func (e *invalidParamsError) ErrorCode() int { return errCodeInvalidParams }
func (e *invalidParamsError) Error() string  { return e.message }

// internalError is returned for unexpected failures inside the core.
type internalError struct{ message string }

func (e *internalError) ErrorCode() int { return errCodeInternal }
func (e *internalError) Error() string  { return e.message }

// subscriptionNotFoundError is returned by handleUnsubscribe when handle
// names no subscription active on the connection (already unsubscribed, or
// never existed).
type subscriptionNotFoundError struct{ handle string }

func (e *subscriptionNotFoundError) ErrorCode() int { return errCodeSubscriptionNotFound }
func (e *subscriptionNotFoundError) Error() string {
	return fmt.Sprintf("no subscription with handle %q", e.handle)
}

// shutdownError is the error returned to in-flight requests when the server
// is stopping.
type shutdownError struct{}

func (e *shutdownError) ErrorCode() int { return errCodeInternal }
func (e *shutdownError) Error() string  { return "server is shutting down" }

// HandlerError wraps an application error returned by a handler. Code should
// be in the -32000..-32099 range; Data is optional and serialized into the
// error object's data field.
type HandlerError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *HandlerError) Error() string      { return e.Message }
func (e *HandlerError) ErrorCode() int     { return e.Code }
func (e *HandlerError) ErrorData() interface{} { return e.Data }

// RemoteError is the client-local representation of a response-error
// received from the peer.
type RemoteError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *RemoteError) Error() string  { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }
func (e *RemoteError) ErrorCode() int { return e.Code }

// Client-local error kinds. These never cross the wire.
var (
	// ErrTransportLost is returned to a caller whose request was in flight
	// when the connection was lost, or who tried to call while the connection
	// was down.
	ErrTransportLost = fmt.Errorf("jrow: transport lost")
	// ErrCancelled is returned when a caller abandons a pending request or
	// explicitly cancels it.
	ErrCancelled = fmt.Errorf("jrow: call cancelled")
	// ErrTimeout is returned when a request's deadline elapses before a
	// response arrives. It also cancels the pending entry.
	ErrTimeout = fmt.Errorf("jrow: call timed out")
	// ErrClientClosed is returned by operations attempted after Close.
	ErrClientClosed = fmt.Errorf("jrow: client is closed")
	// ErrNoResult is returned when a successful response carries no result
	// value to unmarshal.
	ErrNoResult = fmt.Errorf("jrow: no result in response")
	// ErrNotificationsUnsupported is returned by Subscribe when the
	// underlying codec was not negotiated with subscription support.
	ErrNotificationsUnsupported = fmt.Errorf("jrow: notifications not supported on this connection")
)

// DecodeError is returned by Client.Call when a successful result cannot be
// unmarshaled into the caller-supplied type.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return "jrow: decode result: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
