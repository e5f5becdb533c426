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

// Package jrow implements a bidirectional JSON-RPC 2.0 framework over a
// persistent, full-duplex WebSocket transport.
//
// Both a Server and a Client may originate requests and notifications. On
// top of the notification channel the package layers a topic-oriented
// publish/subscribe bus with wildcard routing and bounded retention, and the
// Client additionally manages its own connection lifecycle: it reconnects
// with a configurable backoff and transparently re-establishes any
// subscriptions that were active before the loss.
package jrow
