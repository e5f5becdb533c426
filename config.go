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

import "time"

// CodecOption specifies which type of messages a codec supports, mirroring
// the capability bitmask the teacher's ServeCodec took as an argument.
type CodecOption int

const (
	// OptionMethodInvocation indicates the codec supports RPC method calls.
	OptionMethodInvocation CodecOption = 1 << iota
	// OptionSubscriptions indicates the codec supports server-to-client
	// notifications, and therefore pub/sub delivery.
	OptionSubscriptions
)

// BatchMode selects how a server evaluates the elements of an inbound batch.
type BatchMode int

const (
	// Sequential processes batch elements in order on one goroutine.
	Sequential BatchMode = iota
	// Parallel processes batch elements concurrently, at most
	// ServerConfig.MaxConcurrency at a time (no bound when it is zero);
	// responses are reassembled in input order.
	Parallel
)

// OverflowPolicy selects what happens to a subscriber's delivery queue when
// it is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued message to make room (default).
	DropOldest OverflowPolicy = iota
	// DropNewest discards the message that just arrived.
	DropNewest
)

// ServerConfig collects the knobs enumerated in spec §6 for a Server.
type ServerConfig struct {
	// MaxConcurrency bounds the number of in-flight dispatch goroutines per
	// connection. Zero means unbounded.
	MaxConcurrency int
	// WriteQueueDepth bounds the writer's outbound frame queue per
	// connection.
	WriteQueueDepth int
	// BatchMode selects how inbound batches are evaluated.
	BatchMode BatchMode
	// RequestTimeout is carried in the configuration but not read by
	// Server: handlers run without a deadline, and a full write queue
	// closes the connection at once (see serverConn.Write).
	RequestTimeout time.Duration
	// RetentionPolicies maps a dotted topic prefix to the retention policy
	// applied to publishes under that prefix. The longest matching prefix
	// wins; topics with no match get PolicyNone.
	RetentionPolicies map[string]RetentionPolicy
	// OverflowPolicy selects the default behavior when a subscriber's
	// delivery queue is full. Per-subscription overrides are not exposed;
	// this is a connection-wide default, set at server construction.
	OverflowPolicy OverflowPolicy
	// SubscriberQueueDepth bounds each subscriber's delivery queue.
	SubscriberQueueDepth int
	// Observability configures the tracer/meter surface. The zero value
	// selects the no-op implementation.
	Observability ObservabilityConfig
}

// DefaultServerConfig returns the configuration used by NewServer when none
// is supplied.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConcurrency:       64,
		WriteQueueDepth:      256,
		BatchMode:            Sequential,
		RequestTimeout:       30 * time.Second,
		OverflowPolicy:       DropOldest,
		SubscriberQueueDepth: 256,
	}
}

// ClientConfig collects the knobs enumerated in spec §6 for a Client.
type ClientConfig struct {
	// Reconnect selects the reconnection strategy. Nil selects NoReconnect.
	Reconnect ReconnectStrategy
	// QueueWhileReconnecting is carried in the configuration but not read
	// by Client: a call made while the transport is down fails immediately
	// with ErrTransportLost whatever its value.
	QueueWhileReconnecting bool
	// RequestTimeout bounds Call and BatchCall; zero means no timeout beyond
	// whatever deadline the caller's own context carries.
	RequestTimeout time.Duration
	// Options declares which codec capabilities the peer was negotiated to
	// support, mirroring the teacher's ServeCodec bitmask. Subscribe fails
	// with ErrNotificationsUnsupported when OptionSubscriptions is unset.
	Options CodecOption
	// Observability configures the tracer/meter surface.
	Observability ObservabilityConfig
}

// DefaultClientConfig returns the configuration used by Dial when none is
// supplied.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Reconnect: NoReconnect{},
		Options:   OptionMethodInvocation | OptionSubscriptions,
	}
}
