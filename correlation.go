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
	"encoding/json"
	"strconv"
	"sync"

	"go.uber.org/atomic"
)

// pendingCall is one request (or batch) awaiting responses, addressed by id.
// It is the generalized form of the teacher's requestOp: resp receives each
// matched response message, one per id, and err receives a single error if
// the table is drained (connection lost or client closed) first.
type pendingCall struct {
	ids  []json.RawMessage // one id, or every id in a batch
	resp chan *message
	err  chan error
}

// correlationTable tracks in-flight calls by id so that responses, which
// arrive asynchronously and out of order, can be routed back to the Call
// that is waiting for them. One table is owned per Client.
type correlationTable struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{pending: make(map[string]*pendingCall)}
}

// newRequestID returns a fresh, monotonically increasing id encoded as a
// JSON number, matching the teacher's client-side id assignment.
func (t *correlationTable) newRequestID() json.RawMessage {
	n := t.nextID.Add(1)
	return json.RawMessage(strconv.FormatUint(n, 10))
}

// register adds a pending call for one or more ids. It fails with
// ErrClientClosed if the table has already been drained.
func (t *correlationTable) register(ids []json.RawMessage) (*pendingCall, error) {
	call := &pendingCall{ids: ids, resp: make(chan *message, len(ids)), err: make(chan error, 1)}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClientClosed
	}
	for _, id := range ids {
		t.pending[string(id)] = call
	}
	return call, nil
}

// deregister removes a pending call before it completes, e.g. when the
// caller's context is done. Safe to call even if the call already completed.
func (t *correlationTable) deregister(ids []json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.pending, string(id))
	}
}

// complete routes an inbound response message to its pending call. It
// reports false if no call is waiting on this id (a late or duplicate
// response, which is dropped by the caller).
func (t *correlationTable) complete(resp *message) bool {
	t.mu.Lock()
	call, ok := t.pending[string(resp.ID)]
	if ok {
		delete(t.pending, string(resp.ID))
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	call.resp <- resp
	return true
}

// drain fails every pending call with err, e.g. on transport loss or Close.
// It is idempotent: subsequent register calls fail with ErrClientClosed.
func (t *correlationTable) drain(err error) {
	t.mu.Lock()
	calls := make(map[*pendingCall]bool)
	for _, call := range t.pending {
		calls[call] = true
	}
	t.pending = make(map[string]*pendingCall)
	t.closed = true
	t.mu.Unlock()
	for call := range calls {
		call.err <- err
	}
}

// reopen allows the table to accept new registrations again, used when a
// reconnect controller brings the connection back to Connected.
func (t *correlationTable) reopen() {
	t.mu.Lock()
	t.closed = false
	t.mu.Unlock()
}
