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
	"encoding/json"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"go.uber.org/atomic"
)

// Server accepts connections over a transportConn, dispatches inbound
// requests and notifications through its middleware pipeline to registered
// handlers, and publishes pub/sub deliveries to subscribed connections. One
// Server can serve many concurrent connections; it owns a single
// serviceRegistry and a single pub/sub Registry shared by all of them, per
// spec §4.5.
type Server struct {
	cfg      ServerConfig
	services *serviceRegistry
	registry *Registry
	obs      *observability
	logger   log.Logger
	mws      []Middleware

	running *atomic.Bool
	conns   mapset.Set[*serverConn]
	connsMu sync.Mutex
}

// NewServer constructs a Server. logger may be nil, selecting a no-op
// logger, matching the teacher's convention of accepting a go-kit logger at
// construction (see go-kit/kit/log grounding in DESIGN.md).
func NewServer(cfg ServerConfig, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	obs := newObservability(cfg.Observability)
	return &Server{
		cfg:      cfg,
		services: newServiceRegistry(),
		registry: NewRegistry(cfg.RetentionPolicies, cfg.OverflowPolicy, cfg.SubscriberQueueDepth, obs),
		obs:      obs,
		logger:   logger,
		running:  atomic.NewBool(true),
		conns:    mapset.NewSet[*serverConn](),
	}
}

// Use appends mw to the dispatch pipeline. Middleware registered first is
// outermost, per §4.4 registration order and chain()'s composition. Must be
// called before the first connection is served.
func (s *Server) Use(mw Middleware) { s.mws = append(s.mws, mw) }

// RegisterHandler registers a raw Handler under method.
func (s *Server) RegisterHandler(method string, h Handler) { s.services.register(method, h) }

// RegisterFunc registers fn, a func(context.Context, P) (R, error), under
// method, via TypedHandler.
func (s *Server) RegisterFunc(method string, fn interface{}) {
	s.services.register(method, TypedHandler(fn))
}

// Publish delivers payload to every connection subscribed to a pattern that
// admits topic. It is the server-initiated counterpart to a connection's own
// subscriptions and is typically called from application code that produces
// events independent of any one client request.
func (s *Server) Publish(ctx context.Context, topic string, payload interface{}) (int, error) {
	enc, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return s.registry.Publish(ctx, topic, enc), nil
}

// PublishEntry is one (topic, payload) pair for PublishBatch.
type PublishEntry struct {
	Topic   string
	Payload interface{}
}

// PublishBatch publishes every entry independently; per spec §4.5 there is
// no cross-entry atomicity. It returns the per-entry subscriber counts in
// input order.
func (s *Server) PublishBatch(ctx context.Context, entries []PublishEntry) ([]int, error) {
	raw := make([]struct {
		Topic   string
		Payload []byte
	}, len(entries))
	for i, e := range entries {
		enc, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		raw[i].Topic = e.Topic
		raw[i].Payload = enc
	}
	return s.registry.PublishBatch(ctx, raw), nil
}

// serverConn binds one transportConn to this Server's dispatch pipeline. It
// owns the bounded write queue described in spec §4.5: the writer pump is
// the sole goroutine that calls transportConn.WriteMessage, so concurrently
// dispatched handlers and subscription forwarders never race on the wire.
type serverConn struct {
	srv  *Server
	conn transportConn
	subs *ServerSubscriptions

	writeCh chan interface{} // *message or []*message (batch)
	closeCh chan struct{}
	closeOnce sync.Once
}

// ServeConn takes ownership of conn, running its reader and writer pumps
// until the connection is closed or the server stops. It blocks until the
// connection ends.
func (s *Server) ServeConn(conn transportConn) {
	sc := &serverConn{
		srv:     s,
		conn:    conn,
		writeCh: make(chan interface{}, s.queueDepth()),
		closeCh: make(chan struct{}),
	}
	sc.subs = newServerSubscriptions(s.registry, sc)

	s.connsMu.Lock()
	s.conns.Add(sc)
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		s.conns.Remove(sc)
		s.connsMu.Unlock()
	}()

	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		sc.writeLoop()
	}()

	sc.readLoop()
	sc.subs.closeAll(context.Background())
	sc.closeOnce.Do(func() { close(sc.closeCh) })
	_ = conn.Close()
	pumps.Wait()
}

func (s *Server) queueDepth() int {
	if s.cfg.WriteQueueDepth > 0 {
		return s.cfg.WriteQueueDepth
	}
	return 256
}

// Write enqueues msg for delivery, implementing the jsonWriter interface
// consumed by ServerSubscriptions. A full queue drops the connection: a
// subscriber that cannot keep up with its own bounded channel backpressure
// has, by definition, already exceeded what DropOldest/DropNewest could
// absorb (spec §5).
func (sc *serverConn) Write(msg *message) {
	sc.enqueueWrite(msg)
}

// writeBatch enqueues a slice of responses to be marshaled as one JSON array
// frame, matching the input batch's envelope shape (spec §6(b)).
func (sc *serverConn) writeBatch(msgs []*message) {
	if len(msgs) == 0 {
		return
	}
	sc.enqueueWrite(msgs)
}

func (sc *serverConn) enqueueWrite(v interface{}) {
	select {
	case sc.writeCh <- v:
	case <-sc.closeCh:
	default:
		level.Warn(sc.srv.logger).Log("msg", "write queue full, closing connection")
		sc.closeOnce.Do(func() { close(sc.closeCh) })
	}
}

func (sc *serverConn) writeLoop() {
	for {
		select {
		case msg := <-sc.writeCh:
			enc, err := json.Marshal(msg)
			if err != nil {
				level.Error(sc.srv.logger).Log("msg", "failed to encode outbound message", "err", err)
				continue
			}
			if err := sc.conn.WriteMessage(enc); err != nil {
				return
			}
		case <-sc.closeCh:
			return
		}
	}
}

func (sc *serverConn) readLoop() {
	var pend sync.WaitGroup
	defer pend.Wait()

	var sem chan struct{}
	if n := sc.srv.cfg.MaxConcurrency; n > 0 {
		sem = make(chan struct{}, n)
	}
	for sc.srv.running.Load() {
		raw, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		msgs, batch, perr := parseMessage(json.RawMessage(raw))
		if perr != nil {
			sc.Write(errorMessage(perr))
			continue
		}
		if !sc.srv.running.Load() {
			single, asBatch := errMsgsResponse(msgs, batch)
			if asBatch != nil {
				sc.writeBatch(asBatch)
			} else {
				sc.Write(single)
			}
			return
		}

		if sem != nil {
			sem <- struct{}{}
		}
		pend.Add(1)
		go func() {
			defer pend.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			sc.dispatch(batch, msgs)
		}()
	}
}

// errMsgsResponse builds the shutdown-rejection reply for a frame read after
// Stop was called, matching the input envelope's shape: a single error
// response for a lone message, a batch holding one shutdown error per element
// for an inbound batch (spec §6(b) requires the envelope shape always be
// preserved).
func errMsgsResponse(msgs []*message, batch bool) (single *message, asBatch []*message) {
	if !batch {
		return msgs[0].errorResponse(&shutdownError{}), nil
	}
	resps := make([]*message, len(msgs))
	for i, m := range msgs {
		resps[i] = m.errorResponse(&shutdownError{})
	}
	return nil, resps
}

func (sc *serverConn) dispatch(batch bool, msgs []*message) {
	ctx := context.Background()
	if batch {
		sc.dispatchBatch(ctx, msgs)
		return
	}
	sc.dispatchOne(ctx, msgs[0])
}

func (sc *serverConn) dispatchBatch(ctx context.Context, msgs []*message) {
	resps := make([]*message, len(msgs))
	switch sc.srv.cfg.BatchMode {
	case Parallel:
		var sem chan struct{}
		if n := sc.srv.cfg.MaxConcurrency; n > 0 {
			sem = make(chan struct{}, n)
		}
		var wg sync.WaitGroup
		wg.Add(len(msgs))
		for i, m := range msgs {
			i, m := i, m
			if sem != nil {
				sem <- struct{}{}
			}
			go func() {
				defer wg.Done()
				if sem != nil {
					defer func() { <-sem }()
				}
				resps[i] = sc.evaluate(ctx, m)
			}()
		}
		wg.Wait()
	default:
		for i, m := range msgs {
			resps[i] = sc.evaluate(ctx, m)
		}
	}
	out := resps[:0]
	for _, r := range resps {
		if r != nil {
			out = append(out, r)
		}
	}
	sc.writeBatch(out)
}

func (sc *serverConn) dispatchOne(ctx context.Context, msg *message) {
	if resp := sc.evaluate(ctx, msg); resp != nil {
		sc.Write(resp)
	}
}

// evaluate runs msg through the middleware pipeline and the terminal
// dispatch, recording observability for the attempt. It returns nil for a
// notification, which never produces a response.
func (sc *serverConn) evaluate(ctx context.Context, msg *message) *message {
	ctx, end := sc.srv.obs.dispatchSpan(ctx, msg.Method, string(msg.ID), "")
	outcome := "ok"
	errCode := 0
	defer func() { end(outcome, errCode) }()

	if msg.invalid != nil {
		outcome, errCode = "error", errCodeInvalidRequest
		return msg.errorResponse(msg.invalid)
	}

	ctx = context.WithValue(ctx, subscriptionsKey{}, sc.subs)

	terminal := func(ctx context.Context, msg *message) *message {
		switch {
		case msg.isNotification():
			sc.runNotification(ctx, msg)
			return nil
		case msg.Method == subscribeMethod:
			return sc.handleSubscribe(ctx, msg)
		case msg.Method == unsubscribeMethod:
			return sc.handleUnsubscribe(ctx, msg)
		default:
			return sc.srv.services.call(ctx, msg)
		}
	}
	resp := chain(sc.srv.mws, terminal)(ctx, msg)
	if resp != nil && resp.Error != nil {
		outcome = "error"
		errCode = resp.Error.Code
	}
	return resp
}

func (sc *serverConn) runNotification(ctx context.Context, msg *message) {
	defer func() { recover() }()
	if h, ok := sc.srv.services.lookup(msg.Method); ok {
		_, _ = h(ctx, msg.Params)
	}
}

func (sc *serverConn) handleSubscribe(ctx context.Context, msg *message) *message {
	var params subscribeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return msg.errorResponse(&invalidParamsError{"invalid subscribe params"})
		}
	}
	handle, err := sc.subs.Subscribe(ctx, params.Pattern)
	if err != nil {
		return msg.errorResponse(err)
	}
	return msg.response(subscribeResult{Handle: handle})
}

func (sc *serverConn) handleUnsubscribe(ctx context.Context, msg *message) *message {
	var params unsubscribeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return msg.errorResponse(&invalidParamsError{"invalid unsubscribe params"})
		}
	}
	if !sc.subs.Unsubscribe(ctx, params.Handle) {
		return msg.errorResponse(&subscriptionNotFoundError{handle: params.Handle})
	}
	return msg.response(true)
}

// subscriptionsKey is the context key under which a connection's
// ServerSubscriptions is stashed, allowing a Handler to subscribe/publish on
// behalf of the connection that invoked it without threading the connection
// type through every signature (mirrors the teacher's serverNotifierKey
// pattern in bidi.go/subscription.go).
type subscriptionsKey struct{}

// SubscriptionsFromContext retrieves the calling connection's subscription
// manager, for handlers that need to subscribe or unsubscribe on the
// client's behalf outside the `subscribe`/`unsubscribe` control methods.
func SubscriptionsFromContext(ctx context.Context) (*ServerSubscriptions, bool) {
	s, ok := ctx.Value(subscriptionsKey{}).(*ServerSubscriptions)
	return s, ok
}

// Stop stops accepting new dispatch work and closes every open connection at
// once. It does not wait for handlers that are still running, and their
// responses are not written. Safe to call once; subsequent calls are no-ops.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	level.Info(s.logger).Log("msg", "server shutting down")
	s.connsMu.Lock()
	conns := s.conns.ToSlice()
	s.connsMu.Unlock()
	for _, sc := range conns {
		sc.closeOnce.Do(func() { close(sc.closeCh) })
		_ = sc.conn.Close()
	}
}
