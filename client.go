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
	"errors"
	"sync"
)

// BatchElem is one element of a BatchCall. Result must be a non-nil pointer
// of the desired type; Error is populated per-element and never aborts the
// rest of the batch.
type BatchElem struct {
	Method string
	Args   interface{}
	Result interface{}
	Error  error
}

// Client is a bidirectional JSON-RPC 2.0 session: it can originate calls and
// notifications toward the peer (Call/Notify/BatchCall/Subscribe) and, via
// RegisterHandler/RegisterFunc, can also answer calls the peer originates
// toward it, per SPEC_FULL.md's bidi.go grounding.
type Client struct {
	cfg      ClientConfig
	corr     *correlationTable
	services *serviceRegistry
	obs      *observability

	connMu sync.RWMutex
	conn   transportConn

	subsMu sync.Mutex
	subs   map[string]*ClientSubscription // handle -> subscription, routes inbound delivery
	// subOrder holds every still-live ClientSubscription in the order it was
	// established, independent of the handle map above. Handles are only
	// valid for the connection that issued them, so onResume re-derives
	// c.subs from this list instead of keying off stale handles.
	subOrder []*ClientSubscription

	reconnectCtl *reconnectController

	writeCh chan interface{}
	closeCh chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newClient wraps an already-established conn. dial is used by the
// reconnection controller to establish a replacement connection; it may be
// nil, which disables reconnection regardless of cfg.Reconnect.
func newClient(conn transportConn, dial func() (transportConn, error), cfg ClientConfig) *Client {
	c := &Client{
		cfg:      cfg,
		corr:     newCorrelationTable(),
		services: newServiceRegistry(),
		obs:      newObservability(cfg.Observability),
		conn:     conn,
		subs:     make(map[string]*ClientSubscription),
		writeCh:  make(chan interface{}, 256),
		closeCh:  make(chan struct{}),
	}
	if dial != nil {
		c.reconnectCtl = newReconnectController(cfg.Reconnect, dial, c.onResume, c.onLost, c.onReconnectGiveUp)
		c.reconnectCtl.setState(Connected)
	}
	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop()
	return c
}

// RegisterHandler registers a raw Handler the peer can invoke on this
// client, under method.
func (c *Client) RegisterHandler(method string, h Handler) { c.services.register(method, h) }

// RegisterFunc registers fn, a func(context.Context, P) (R, error), under
// method, via TypedHandler.
func (c *Client) RegisterFunc(method string, fn interface{}) {
	c.services.register(method, TypedHandler(fn))
}

// ConnectionState reports the client's current transport state.
func (c *Client) ConnectionState() ConnectionState {
	if c.reconnectCtl == nil {
		c.connMu.RLock()
		defer c.connMu.RUnlock()
		if c.conn == nil {
			return Disconnected
		}
		return Connected
	}
	return c.reconnectCtl.State()
}

// Close shuts the client down, failing every pending Call/BatchCall with
// ErrClientClosed and ending every active ClientSubscription (its Err channel
// closes without a value); no unsubscribe request is sent to the peer.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.reconnectCtl != nil {
			c.reconnectCtl.close()
		}
		close(c.closeCh)
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.corr.drain(ErrClientClosed)
		c.subsMu.Lock()
		subs := c.subOrder
		c.subs = make(map[string]*ClientSubscription)
		c.subOrder = nil
		c.subsMu.Unlock()
		for _, s := range subs {
			s.quitWithError(ErrClientClosed, false)
		}
	})
	c.wg.Wait()
}

// Call invokes method on the peer with params, blocking until a response
// arrives, ctx is done, or the connection is lost. result, if non-nil, is
// populated by unmarshaling the response's result field.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params interface{}) error {
	msg, err := c.buildRequest(method, params)
	if err != nil {
		return err
	}
	call, err := c.corr.register([]json.RawMessage{msg.ID})
	if err != nil {
		select {
		case <-c.closeCh:
		default:
			err = ErrTransportLost
		}
		return err
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	ctx, end := c.obs.dispatchSpan(ctx, method, string(msg.ID), "")
	defer func() { end("done", 0) }()

	if err := c.enqueueWrite(msg); err != nil {
		c.corr.deregister(call.ids)
		return err
	}
	select {
	case resp := <-call.resp:
		return decodeCallResult(resp, result)
	case err := <-call.err:
		return err
	case <-ctx.Done():
		c.corr.deregister(call.ids)
		return callContextErr(ctx)
	}
}

// callContextErr translates a done context into the client-local error kinds
// callers of Call/BatchCall expect, rather than leaking the raw context
// sentinel across the API.
func callContextErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrCancelled
	default:
		return ctx.Err()
	}
}

func decodeCallResult(resp *message, result interface{}) error {
	if resp.Error != nil {
		remote := &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		if len(resp.Error.Data) > 0 {
			var data interface{}
			if err := json.Unmarshal(resp.Error.Data, &data); err == nil {
				remote.Data = data
			}
		}
		return remote
	}
	if result == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return ErrNoResult
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Notify sends method as a fire-and-forget notification; it never waits for
// or expects a response.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	msg, err := c.buildRequest(method, params)
	if err != nil {
		return err
	}
	msg.ID = nil
	return c.enqueueWrite(msg)
}

// BatchCall sends every element of elems as a single JSON-RPC batch and
// waits for all responses. Only I/O-level failures are returned directly;
// per-element failures are reported through each BatchElem's Error field.
func (c *Client) BatchCall(ctx context.Context, elems []BatchElem) error {
	if len(elems) == 0 {
		return nil
	}
	msgs := make([]*message, len(elems))
	ids := make([]json.RawMessage, len(elems))
	for i, e := range elems {
		msg, err := c.buildRequest(e.Method, e.Args)
		if err != nil {
			return err
		}
		msgs[i] = msg
		ids[i] = msg.ID
	}
	call, err := c.corr.register(ids)
	if err != nil {
		select {
		case <-c.closeCh:
		default:
			err = ErrTransportLost
		}
		return err
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	if err := c.enqueueWrite(msgs); err != nil {
		c.corr.deregister(ids)
		return err
	}
	remaining := make(map[string]*BatchElem, len(elems))
	for i := range elems {
		remaining[string(ids[i])] = &elems[i]
	}
	for len(remaining) > 0 {
		select {
		case resp := <-call.resp:
			elem, ok := remaining[string(resp.ID)]
			if !ok {
				continue
			}
			elem.Error = decodeCallResult(resp, elem.Result)
			delete(remaining, string(resp.ID))
		case err := <-call.err:
			return err
		case <-ctx.Done():
			c.corr.deregister(ids)
			return callContextErr(ctx)
		}
	}
	return nil
}

// Subscribe asks the peer to subscribe this connection to pattern and
// forwards every delivery to cb on a dedicated goroutine, per spec §4.6.
func (c *Client) Subscribe(ctx context.Context, pattern string, cb func(topic string, data json.RawMessage)) (*ClientSubscription, error) {
	if c.cfg.Options&OptionSubscriptions == 0 {
		return nil, ErrNotificationsUnsupported
	}
	sub := newClientSubscription(c, pattern, cb)
	var result subscribeResult
	if err := c.Call(ctx, &result, subscribeMethod, subscribeParams{Pattern: pattern}); err != nil {
		return nil, err
	}
	sub.handle = result.Handle
	c.subsMu.Lock()
	c.subs[sub.handle] = sub
	c.subOrder = append(c.subOrder, sub)
	c.subsMu.Unlock()
	go sub.start()
	return sub, nil
}

// forgetSubscription removes sub from both the handle-keyed routing map and
// the registration-order list, e.g. once the caller explicitly unsubscribes.
func (c *Client) forgetSubscription(sub *ClientSubscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, sub.handle)
	for i, s := range c.subOrder {
		if s == sub {
			c.subOrder = append(c.subOrder[:i], c.subOrder[i+1:]...)
			break
		}
	}
}

func (c *Client) buildRequest(method string, params interface{}) (*message, error) {
	enc, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &message{Version: vsn, ID: c.corr.newRequestID(), Method: method, Params: enc}, nil
}

func (c *Client) enqueueWrite(v interface{}) error {
	select {
	case c.writeCh <- v:
		return nil
	case <-c.closeCh:
		return ErrClientClosed
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case v := <-c.writeCh:
			enc, err := json.Marshal(v)
			if err != nil {
				continue
			}
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			_ = conn.WriteMessage(enc)
		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) readLoop(conn transportConn) {
	defer c.wg.Done()
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportLoss(err)
			return
		}
		msgs, _, perr := parseMessage(json.RawMessage(raw))
		if perr != nil {
			continue
		}
		for _, msg := range msgs {
			c.handleInbound(msg)
		}
	}
}

func (c *Client) handleInbound(msg *message) {
	switch {
	case msg.isResponse():
		c.corr.complete(msg)
	case msg.Method == notificationMethod:
		c.handleDelivery(msg)
	case msg.isNotification():
		c.runInboundNotification(msg)
	case msg.isCall():
		c.runInboundCall(msg)
	}
}

func (c *Client) handleDelivery(msg *message) {
	var params deliveryParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	c.subsMu.Lock()
	sub, ok := c.subs[params.Handle]
	c.subsMu.Unlock()
	if ok {
		sub.deliver(params.Topic, params.Data)
	}
}

func (c *Client) runInboundNotification(msg *message) {
	if h, ok := c.services.lookup(msg.Method); ok {
		defer func() { recover() }()
		_, _ = h(context.Background(), msg.Params)
	}
}

func (c *Client) runInboundCall(msg *message) {
	resp := c.services.call(context.Background(), msg)
	_ = c.enqueueWrite(resp)
}

// handleTransportLoss reacts to a read-loop failure. When reconnection is
// configured, stored subscriptions survive the loss per spec §4.7's
// data-model rule that a client-side Subscription persists across reconnects
// until explicitly cancelled: only the handle-keyed routing table is
// cleared, since handles are meaningless once the connection they were
// issued on is gone. subOrder is left untouched so onResume can re-issue
// every one of them. Without reconnection configured, the loss is terminal
// and every subscription quits with ErrTransportLost immediately.
func (c *Client) handleTransportLoss(err error) {
	c.corr.drain(ErrTransportLost)
	if c.reconnectCtl != nil {
		c.subsMu.Lock()
		c.subs = make(map[string]*ClientSubscription)
		c.subsMu.Unlock()
		c.reconnectCtl.handleLoss(err)
		return
	}
	c.subsMu.Lock()
	subs := c.subOrder
	c.subs = make(map[string]*ClientSubscription)
	c.subOrder = nil
	c.subsMu.Unlock()
	for _, s := range subs {
		s.quitWithError(ErrTransportLost, false)
	}
}

// onResume is invoked by the reconnection controller once a replacement
// connection has been dialed successfully. It swaps the active connection,
// restarts the reader, reopens the correlation table for new calls, and then
// re-issues a subscribe for every stored subscription in registration order,
// per spec §4.7 ("On entering Connected from Reconnecting, all stored
// subscriptions are re-issued to the server in registration order"). A
// subscription whose resubscribe fails is quit individually with the
// resubscribe error rather than aborting the rest of the resume.
func (c *Client) onResume(conn transportConn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.corr.reopen()
	c.wg.Add(1)
	go c.readLoop(conn)

	c.subsMu.Lock()
	subs := append([]*ClientSubscription(nil), c.subOrder...)
	c.subsMu.Unlock()

	for _, sub := range subs {
		var result subscribeResult
		err := c.Call(context.Background(), &result, subscribeMethod, subscribeParams{Pattern: sub.pattern})
		if err != nil {
			sub.quitWithError(err, false)
			c.forgetSubscription(sub)
			continue
		}
		c.subsMu.Lock()
		sub.handle = result.Handle
		c.subs[sub.handle] = sub
		c.subsMu.Unlock()
	}
}

// onLost is invoked by the reconnection controller immediately after a
// transport loss is observed, before any retry delay elapses.
func (c *Client) onLost(err error) {}

// onReconnectGiveUp is invoked once the reconnection strategy's retry budget
// is exhausted and the controller settles into Disconnected for good. At
// that point resubscribing is no longer possible, so every stored
// subscription quits with ErrTransportLost.
func (c *Client) onReconnectGiveUp() {
	c.subsMu.Lock()
	subs := c.subOrder
	c.subs = make(map[string]*ClientSubscription)
	c.subOrder = nil
	c.subsMu.Unlock()
	for _, s := range subs {
		s.quitWithError(ErrTransportLost, false)
	}
}
