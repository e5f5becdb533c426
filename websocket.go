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

// This file implements the only transport the package carries:
// WebSocket, via gorilla/websocket. Earlier teacher lineages dialed
// golang.org/x/net/websocket directly; the pack itself has since moved to
// gorilla/websocket (see DESIGN.md), and this file follows that move.

package jrow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transportConn is the minimal duplex-frame abstraction both the client and
// server dispatch loops run against. It erases gorilla/websocket's wider API
// down to exactly what a JSON-RPC codec needs: whole-message send/receive.
type transportConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// wsConn adapts *websocket.Conn to transportConn. Writes are serialized with
// a mutex because gorilla/websocket forbids concurrent writers on one
// connection; reads are never concurrent in this package's architecture (one
// reader pump owns ReadMessage).
type wsConn struct {
	ws *websocket.Conn
	wmu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error { return c.ws.Close() }

// Upgrader wraps gorilla/websocket.Upgrader with the origin-allowlist
// behavior the teacher's wsHandshakeValidator implemented for the older
// transport, generalized to an explicit list instead of a set.Set (the
// pack's deckarep/golang-set/v2 is reserved in this module for the server's
// set of live connections, see server.go and DESIGN.md).
type Upgrader struct {
	AllowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewUpgrader builds an Upgrader. An empty or absent allowedOrigins allows
// only http://localhost and https://localhost; "*" allows every origin.
func NewUpgrader(allowedOrigins []string) *Upgrader {
	u := &Upgrader{AllowedOrigins: allowedOrigins}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     u.checkOrigin,
	}
	return u
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := u.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost", "https://localhost"}
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Accept upgrades an inbound HTTP request to a WebSocket connection.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (transportConn, error) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(ws), nil
}

// ListenAndServe starts an HTTP server that upgrades every request on path
// to a WebSocket and serves it with srv. It blocks until the listener fails
// or is closed; callers that need graceful shutdown should build their own
// http.Server and call Accept from its handler instead.
func ListenAndServe(addr, path string, srv *Server, allowedOrigins []string) error {
	up := NewUpgrader(allowedOrigins)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Accept(w, r)
		if err != nil {
			return
		}
		srv.ServeConn(conn)
	})
	return http.ListenAndServe(addr, mux)
}

// DialWS dials a WebSocket endpoint (ws:// or wss://) and returns a Client
// with no reconnection strategy. Use DialWSWithConfig to enable reconnects
// or observability.
func DialWS(ctx context.Context, endpoint string) (*Client, error) {
	return DialWSWithConfig(ctx, endpoint, DefaultClientConfig())
}

// DialWSWithConfig dials endpoint and constructs a Client around cfg.
func DialWSWithConfig(ctx context.Context, endpoint string, cfg ClientConfig) (*Client, error) {
	dial := func() (transportConn, error) { return dialWSOnce(ctx, endpoint) }
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	return newClient(conn, dial, cfg), nil
}

func dialWSOnce(ctx context.Context, endpoint string) (transportConn, error) {
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return nil, fmt.Errorf("jrow: invalid websocket endpoint %q", endpoint)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(ws), nil
}
