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
	"math/rand"
	"time"
)

// ConnectionState describes where a Client's transport currently stands,
// per spec §4.7.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectStrategy decides whether and how long to wait before the next
// reconnection attempt after the attempt'th consecutive failure (attempt
// starts at 1 for the first retry following the initial disconnect).
// Returning ok=false ends the reconnection loop for good.
type ReconnectStrategy interface {
	NextDelay(attempt int) (delay time.Duration, ok bool)
}

// NoReconnect never retries; the client transitions straight from
// Connected to Disconnected on transport loss.
type NoReconnect struct{}

func (NoReconnect) NextDelay(int) (time.Duration, bool) { return 0, false }

// FixedDelay retries forever with the same delay between attempts.
type FixedDelay struct {
	Delay time.Duration
}

func (f FixedDelay) NextDelay(int) (time.Duration, bool) { return f.Delay, true }

// ExponentialBackoff retries with a delay that doubles each attempt, capped
// at Max, then scaled by a random factor in [0.5, 1.5] when Jitter is set, to
// avoid synchronized reconnect storms across many clients. MaxAttempts of
// zero means unlimited.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      bool
	MaxAttempts int
}

func (b ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	delay := b.Base
	for i := 1; i < attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	if b.Jitter {
		factor := 0.5 + rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay, true
}

// reconnectController runs the state machine described in spec §4.7: it owns
// the Client's ConnectionState, drives the dial-retry loop according to a
// ReconnectStrategy, and invokes onResume once a new connection is in place
// so the caller can resubscribe outstanding patterns.
type reconnectController struct {
	strategy ReconnectStrategy
	dial     func() (transportConn, error)
	onResume func(transportConn)
	onLost   func(error)
	// onGiveUp is invoked once the strategy's retry budget is exhausted
	// (NextDelay returns ok=false) and the controller settles into
	// Disconnected for good. It lets the caller finally tear down state
	// that persists across individual retries, e.g. stored subscriptions.
	onGiveUp func()

	stateCh chan ConnectionState
	state   ConnectionState
}

func newReconnectController(strategy ReconnectStrategy, dial func() (transportConn, error), onResume func(transportConn), onLost func(error), onGiveUp func()) *reconnectController {
	if strategy == nil {
		strategy = NoReconnect{}
	}
	return &reconnectController{
		strategy: strategy,
		dial:     dial,
		onResume: onResume,
		onLost:   onLost,
		onGiveUp: onGiveUp,
		stateCh:  make(chan ConnectionState, 1),
		state:    Disconnected,
	}
}

func (c *reconnectController) setState(s ConnectionState) {
	c.state = s
	select {
	case c.stateCh <- s:
	default:
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

// State returns the most recently observed connection state.
func (c *reconnectController) State() ConnectionState { return c.state }

// handleLoss reacts to a transport failure: it notifies the caller, then
// either gives up (NoReconnect, or the strategy's budget is exhausted) or
// begins the retry loop on its own goroutine.
func (c *reconnectController) handleLoss(err error) {
	c.onLost(err)
	if c.state == Closed {
		return
	}
	c.setState(Reconnecting)
	go c.retryLoop()
}

func (c *reconnectController) retryLoop() {
	for attempt := 1; ; attempt++ {
		delay, ok := c.strategy.NextDelay(attempt)
		if !ok {
			c.setState(Disconnected)
			if c.onGiveUp != nil {
				c.onGiveUp()
			}
			return
		}
		time.Sleep(delay)
		if c.state == Closed {
			return
		}
		conn, err := c.dial()
		if err != nil {
			continue
		}
		c.setState(Connected)
		c.onResume(conn)
		return
	}
}

// close marks the controller permanently closed; any in-progress retryLoop
// observes this on its next iteration and exits without reconnecting.
func (c *reconnectController) close() {
	c.setState(Closed)
}
