// Copyright 2016 The go-ethereum Authors
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
	"sync"
)

// Reserved method names for the pub/sub control plane and delivery, per
// SPEC_FULL.md §6(a): subscribe/unsubscribe are ordinary calls, rpc_notify is
// a server-originated notification that never expects a response.
const (
	subscribeMethod    = "subscribe"
	unsubscribeMethod  = "unsubscribe"
	notificationMethod = "rpc_notify"

	// clientSubscriptionBuffer bounds how many undelivered notifications a
	// ClientSubscription holds before its own forwarding goroutine applies
	// backpressure to the client's read loop.
	clientSubscriptionBuffer = 256
)

// subscribeParams is the params object of a subscribe request.
type subscribeParams struct {
	Pattern string `json:"pattern"`
}

// subscribeResult is the result object of a subscribe response.
type subscribeResult struct {
	Handle string `json:"handle"`
}

// unsubscribeParams is the params object of an unsubscribe request.
type unsubscribeParams struct {
	Handle string `json:"handle"`
}

// deliveryParams is the params object of an rpc_notify notification. Handle
// identifies which of the client's subscriptions the payload belongs to; it
// is the value returned from the original subscribe call. Topic is the
// concrete dotted topic that was published, which may be more specific than
// the subscription's pattern when the pattern used a wildcard (spec §6).
type deliveryParams struct {
	Handle string          `json:"handle"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

// jsonWriter is the minimal transport-sink capability subscription forwarding
// needs; server.go's connection type implements it over the bounded write
// queue described in spec §4.5.
type jsonWriter interface {
	Write(msg *message)
}

// ServerSubscriptions adapts one connection's registry-backed subscriptions
// to the request/response model: it owns the bookkeeping needed to answer
// `unsubscribe` and to stop forwarding once the connection tears down.
type ServerSubscriptions struct {
	reg  *Registry
	conn jsonWriter

	mu     sync.Mutex
	active map[string]context.CancelFunc // handle -> stop forwarding goroutine
}

func newServerSubscriptions(reg *Registry, conn jsonWriter) *ServerSubscriptions {
	return &ServerSubscriptions{reg: reg, conn: conn, active: make(map[string]context.CancelFunc)}
}

// Subscribe registers pattern against the registry and starts a forwarding
// goroutine that writes each delivery as an rpc_notify notification on conn.
// The forwarding goroutine is running by the time Subscribe returns, so a
// retained-message replay triggered by Registry.Subscribe can never be lost
// between registration and the subscribe response reaching the client.
// Handlers reached via SubscriptionsFromContext can call this to subscribe
// the calling connection outside the `subscribe` control method.
func (s *ServerSubscriptions) Subscribe(ctx context.Context, pattern string) (string, error) {
	handle, deliveries, err := s.reg.Subscribe(ctx, pattern)
	if err != nil {
		return "", err
	}
	fctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[handle] = cancel
	s.mu.Unlock()
	go s.forward(fctx, handle, deliveries)
	return handle, nil
}

func (s *ServerSubscriptions) forward(ctx context.Context, handle string, deliveries <-chan delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.conn.Write(subscriptionNotification(handle, d.Topic, d.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// Unsubscribe stops forwarding for handle and drops it from the registry,
// reporting whether handle was active.
func (s *ServerSubscriptions) Unsubscribe(ctx context.Context, handle string) bool {
	s.mu.Lock()
	cancel, ok := s.active[handle]
	if ok {
		delete(s.active, handle)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	s.reg.Unsubscribe(ctx, handle)
	return true
}

// closeAll tears down every subscription this connection owns, e.g. on
// disconnect. No unsubscribe response is sent; there is no one left to send
// it to.
func (s *ServerSubscriptions) closeAll(ctx context.Context) {
	s.mu.Lock()
	handles := make([]string, 0, len(s.active))
	for h, cancel := range s.active {
		cancel()
		handles = append(handles, h)
	}
	s.active = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	for _, h := range handles {
		s.reg.Unsubscribe(ctx, h)
	}
}

func subscriptionNotification(handle, topic string, payload []byte) *message {
	params, _ := json.Marshal(deliveryParams{Handle: handle, Topic: topic, Data: payload})
	return &message{Version: vsn, Method: notificationMethod, Params: params}
}

// ClientSubscription represents a subscription established through
// Client.Subscribe. Deliveries are forwarded to the user's callback on a
// dedicated goroutine, so a slow callback does not stall the client's read
// loop while fewer than clientSubscriptionBuffer deliveries are queued; once
// that buffer is full, deliver blocks the read loop until there is room or
// the subscription quits.
type ClientSubscription struct {
	client   *Client
	pattern  string
	callback func(topic string, data json.RawMessage)
	handle   string

	in   chan clientDelivery
	quit chan struct{}

	quitOnce sync.Once
	errOnce  sync.Once
	err      chan error
}

// clientDelivery is one notification queued to a ClientSubscription's
// forwarding goroutine: the concrete topic published, paired with its data.
type clientDelivery struct {
	Topic string
	Data  json.RawMessage
}

func newClientSubscription(c *Client, pattern string, cb func(string, json.RawMessage)) *ClientSubscription {
	return &ClientSubscription{
		client:   c,
		pattern:  pattern,
		callback: cb,
		in:       make(chan clientDelivery, clientSubscriptionBuffer),
		quit:     make(chan struct{}),
		err:      make(chan error, 1),
	}
}

// Err returns a channel that receives the error which ended the
// subscription. It is closed without a value if Unsubscribe or Client.Close
// caused the end.
func (sub *ClientSubscription) Err() <-chan error { return sub.err }

// Handle returns the server-assigned subscription handle.
func (sub *ClientSubscription) Handle() string { return sub.handle }

// Unsubscribe stops delivery and asks the server to drop the subscription.
// Safe to call more than once and safe to call concurrently with delivery.
func (sub *ClientSubscription) Unsubscribe() {
	sub.quitWithError(nil, true)
}

func (sub *ClientSubscription) quitWithError(err error, unsubscribeServer bool) {
	sub.quitOnce.Do(func() {
		close(sub.quit)
		if unsubscribeServer {
			sub.requestUnsubscribe()
			sub.client.forgetSubscription(sub)
		}
		if err == ErrClientClosed {
			err = nil
		}
		if err != nil {
			sub.err <- err
		}
		sub.errOnce.Do(func() { close(sub.err) })
	})
}

// deliver hands one notification to the subscription's forwarding goroutine,
// blocking until there is room or the subscription quits.
func (sub *ClientSubscription) deliver(topic string, data json.RawMessage) bool {
	select {
	case sub.in <- clientDelivery{Topic: topic, Data: data}:
		return true
	case <-sub.quit:
		return false
	}
}

func (sub *ClientSubscription) start() {
	for {
		select {
		case d := <-sub.in:
			sub.callback(d.Topic, d.Data)
		case <-sub.quit:
			return
		}
	}
}

func (sub *ClientSubscription) requestUnsubscribe() {
	var result interface{}
	_ = sub.client.Call(context.Background(), &result, unsubscribeMethod, unsubscribeParams{Handle: sub.handle})
}
