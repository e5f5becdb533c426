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
	"testing"
	"time"
)

func TestNoReconnectNeverRetries(t *testing.T) {
	if _, ok := (NoReconnect{}).NextDelay(1); ok {
		t.Error("NoReconnect should never allow a retry")
	}
}

func TestFixedDelayAlwaysSameDelay(t *testing.T) {
	f := FixedDelay{Delay: 2 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		d, ok := f.NextDelay(attempt)
		if !ok || d != 2*time.Second {
			t.Errorf("attempt %d: got (%v, %v)", attempt, d, ok)
		}
	}
}

func TestExponentialBackoffDoublesUntilCap(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 8 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		d, ok := b.NextDelay(i + 1)
		if !ok || d != w {
			t.Errorf("attempt %d: got %v, want %v", i+1, d, w)
		}
	}
}

func TestExponentialBackoffRespectsMaxAttempts(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: time.Minute, MaxAttempts: 2}
	if _, ok := b.NextDelay(2); !ok {
		t.Error("attempt 2 should still be allowed")
	}
	if _, ok := b.NextDelay(3); ok {
		t.Error("attempt 3 should exceed MaxAttempts")
	}
}

func TestExponentialBackoffJitterBounded(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: time.Second, Jitter: true}
	for i := 0; i < 20; i++ {
		d, _ := b.NextDelay(1)
		if d < time.Second/2 || d >= 3*time.Second/2 {
			t.Fatalf("delay %v outside expected [0.5x, 1.5x) jitter bounds", d)
		}
	}
}

func TestReconnectControllerRetriesUntilDialSucceeds(t *testing.T) {
	attempts := 0
	resumed := make(chan struct{}, 1)
	ctl := newReconnectController(
		FixedDelay{Delay: time.Millisecond},
		func() (transportConn, error) {
			attempts++
			if attempts < 3 {
				return nil, errDialFailed
			}
			return fakeTransport{}, nil
		},
		func(transportConn) { resumed <- struct{}{} },
		func(error) {},
		func() {},
	)
	ctl.handleLoss(errDialFailed)
	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnection")
	}
	if ctl.State() != Connected {
		t.Errorf("state = %v, want Connected", ctl.State())
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

type fakeTransport struct{}

func (fakeTransport) ReadMessage() ([]byte, error) { return nil, nil }
func (fakeTransport) WriteMessage([]byte) error    { return nil }
func (fakeTransport) Close() error                 { return nil }

var errDialFailed = errTest("dial failed")

type errTest string

func (e errTest) Error() string { return string(e) }
