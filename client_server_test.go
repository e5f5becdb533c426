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
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// pipeTransport is an in-memory transportConn backed by channels, used to
// exercise Client against Server without a real socket.
type pipeTransport struct {
	out chan []byte
	in  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newPipePair() (a, b *pipeTransport) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	return &pipeTransport{out: c1, in: c2, done: make(chan struct{})}, &pipeTransport{out: c2, in: c1, done: make(chan struct{})}
}

// ReadMessage fails once the in channel is closed or Close was called, as a
// read on a closed socket does.
func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case b, ok := <-p.in:
		if !ok {
			return nil, errTest("closed")
		}
		return b, nil
	case <-p.done:
		return nil, errTest("closed")
	}
}

// WriteMessage reports a send on an out channel that has been closed as a
// write error instead of panicking.
func (p *pipeTransport) WriteMessage(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = errTest("closed")
		}
	}()
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case p.out <- cp:
		return nil
	default:
		return errTest("pipe full")
	}
}

func (p *pipeTransport) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

type addParams struct{ A, B int }

func newTestServer() *Server {
	srv := NewServer(DefaultServerConfig(), nil)
	srv.RegisterFunc("add", func(ctx context.Context, args addParams) (int, error) {
		return args.A + args.B, nil
	})
	return srv
}

func TestClientServerCall(t *testing.T) {
	srv := newTestServer()
	serverSide, clientSide := newPipePair()
	go srv.ServeConn(serverSide)

	client := newClient(clientSide, nil, DefaultClientConfig())
	defer client.Close()

	var result int
	if err := client.Call(context.Background(), &result, "add", addParams{A: 2, B: 3}); err != nil {
		t.Fatal(err)
	}
	if result != 5 {
		t.Errorf("got %d, want 5", result)
	}
}

func TestClientServerMethodNotFound(t *testing.T) {
	srv := newTestServer()
	serverSide, clientSide := newPipePair()
	go srv.ServeConn(serverSide)

	client := newClient(clientSide, nil, DefaultClientConfig())
	defer client.Close()

	var result int
	err := client.Call(context.Background(), &result, "missing", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	remote, ok := err.(*RemoteError)
	if !ok || remote.Code != errCodeMethodNotFound {
		t.Errorf("unexpected error: %#v", err)
	}
}

func TestClientServerBatchCall(t *testing.T) {
	srv := newTestServer()
	serverSide, clientSide := newPipePair()
	go srv.ServeConn(serverSide)

	client := newClient(clientSide, nil, DefaultClientConfig())
	defer client.Close()

	var r1, r2 int
	batch := []BatchElem{
		{Method: "add", Args: addParams{A: 1, B: 1}, Result: &r1},
		{Method: "add", Args: addParams{A: 2, B: 2}, Result: &r2},
	}
	if err := client.BatchCall(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if r1 != 2 || r2 != 4 {
		t.Errorf("got r1=%d r2=%d, want 2 and 4", r1, r2)
	}
}

func TestClientServerSubscribe(t *testing.T) {
	srv := newTestServer()
	serverSide, clientSide := newPipePair()
	go srv.ServeConn(serverSide)

	client := newClient(clientSide, nil, DefaultClientConfig())
	defer client.Close()

	type received struct {
		topic string
		data  json.RawMessage
	}
	delivered := make(chan received, 1)
	sub, err := client.Subscribe(context.Background(), "orders.>", func(topic string, data json.RawMessage) {
		delivered <- received{topic: topic, data: data}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := srv.Publish(context.Background(), "orders.filled", "traded"); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-delivered:
		if r.topic != "orders.filled" {
			t.Errorf("topic = %q, want the published topic orders.filled, not the wildcard pattern", r.topic)
		}
		var got string
		if err := json.Unmarshal(r.data, &got); err != nil || got != "traded" {
			t.Errorf("got %s (err %v)", r.data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestClientNotify(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := NewServer(DefaultServerConfig(), nil)
	srv.RegisterFunc("log", func(ctx context.Context, args string) (interface{}, error) {
		received <- struct{}{}
		return nil, nil
	})
	serverSide, clientSide := newPipePair()
	go srv.ServeConn(serverSide)

	client := newClient(clientSide, nil, DefaultClientConfig())
	defer client.Close()

	if err := client.Notify(context.Background(), "log", "hello"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never handled")
	}
}
