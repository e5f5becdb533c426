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
	"testing"
	"time"
)

// TestClientResubscribesOnResume exercises spec §4.7's flagship behavior: a
// subscription established before a transport loss keeps receiving
// deliveries after reconnection, without the caller calling Subscribe again.
func TestClientResubscribesOnResume(t *testing.T) {
	srv := newTestServer()

	serverSide1, clientSide1 := newPipePair()
	go srv.ServeConn(serverSide1)

	var serverSide2, clientSide2 *pipeTransport
	dial := func() (transportConn, error) {
		serverSide2, clientSide2 = newPipePair()
		go srv.ServeConn(serverSide2)
		return clientSide2, nil
	}

	cfg := DefaultClientConfig()
	cfg.Reconnect = FixedDelay{Delay: time.Millisecond}
	client := newClient(clientSide1, dial, cfg)
	defer client.Close()

	delivered := make(chan string, 4)
	sub, err := client.Subscribe(context.Background(), "orders.>", func(topic string, data json.RawMessage) {
		delivered <- topic
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := srv.Publish(context.Background(), "orders.filled", "first"); err != nil {
		t.Fatal(err)
	}
	select {
	case topic := <-delivered:
		if topic != "orders.filled" {
			t.Fatalf("got topic %q before resume, want orders.filled", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pre-loss delivery")
	}

	// Simulate transport loss by closing the pipe the read loop is blocked
	// on; newClient's readLoop observes the closed channel as a read error
	// and hands off to handleTransportLoss.
	close(clientSide1.in)

	waitForState(t, client, Connected)

	if _, err := srv.Publish(context.Background(), "orders.cancelled", "second"); err != nil {
		t.Fatal(err)
	}
	select {
	case topic := <-delivered:
		if topic != "orders.cancelled" {
			t.Fatalf("got topic %q after resume, want orders.cancelled", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-resume delivery; resubscribe-on-resume did not happen")
	}
}

func waitForState(t *testing.T, c *Client, want ConnectionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if c.ConnectionState() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, last seen %v", want, c.ConnectionState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
