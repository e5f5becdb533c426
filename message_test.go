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
	"encoding/json"
	"testing"
)

func TestMessageClassification(t *testing.T) {
	call := &message{Version: vsn, ID: json.RawMessage("1"), Method: "add"}
	if !call.isCall() || call.isNotification() || call.isResponse() {
		t.Errorf("misclassified call: %#v", call)
	}
	note := &message{Version: vsn, Method: "log"}
	if !note.isNotification() || note.isCall() || note.isResponse() {
		t.Errorf("misclassified notification: %#v", note)
	}
	resp := &message{Version: vsn, ID: json.RawMessage("1"), Result: json.RawMessage("42")}
	if !resp.isResponse() || resp.isCall() || resp.isNotification() {
		t.Errorf("misclassified response: %#v", resp)
	}
}

func TestParseMessageSingle(t *testing.T) {
	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"add","params":[1,2]}`)
	msgs, batch, err := parseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if batch {
		t.Error("single message misparsed as batch")
	}
	if len(msgs) != 1 || msgs[0].Method != "add" {
		t.Errorf("unexpected parse result: %#v", msgs)
	}
}

func TestParseMessageBatch(t *testing.T) {
	raw := json.RawMessage(`[{"jsonrpc":"2.0","id":1,"method":"add"},{"jsonrpc":"2.0","id":2,"method":"sub"}]`)
	msgs, batch, err := parseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !batch || len(msgs) != 2 {
		t.Errorf("unexpected batch parse result: %#v batch=%v", msgs, batch)
	}
}

func TestParseMessageEmptyBatchRejected(t *testing.T) {
	if _, _, err := parseMessage(json.RawMessage(`[]`)); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestParseMessageWrongVersion(t *testing.T) {
	raw := json.RawMessage(`{"jsonrpc":"1.0","id":1,"method":"add"}`)
	msgs, _, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage should evaluate the element rather than reject the frame: %v", err)
	}
	if len(msgs) != 1 || msgs[0].invalid == nil {
		t.Fatalf("expected a single message flagged invalid, got %#v", msgs)
	}
	coder, ok := msgs[0].invalid.(errorCoder)
	if !ok {
		t.Fatalf("invalid error %T does not carry a code", msgs[0].invalid)
	}
	if coder.ErrorCode() != errCodeInvalidRequest {
		t.Errorf("invalid code = %d, want %d", coder.ErrorCode(), errCodeInvalidRequest)
	}
}

func TestParseMessageBatchMixedVersionsPerElement(t *testing.T) {
	raw := json.RawMessage(`[{"jsonrpc":"2.0","id":1,"method":"add"},{"jsonrpc":"1.0","id":2,"method":"sub"}]`)
	msgs, batch, err := parseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !batch || len(msgs) != 2 {
		t.Fatalf("unexpected batch parse result: %#v batch=%v", msgs, batch)
	}
	if msgs[0].invalid != nil {
		t.Errorf("first element should be valid, got %v", msgs[0].invalid)
	}
	if msgs[1].invalid == nil {
		t.Error("second element should be flagged invalid")
	}
}

func TestParseMessageGarbage(t *testing.T) {
	if _, _, err := parseMessage(json.RawMessage(`not json`)); err == nil {
		t.Error("expected parse error for garbage input")
	} else if _, ok := err.(*parseError); !ok {
		t.Errorf("expected *parseError, got %T", err)
	}
}

func TestToWireErrorCarriesCode(t *testing.T) {
	we := toWireError(&methodNotFoundError{"foo_bar"})
	if we.Code != errCodeMethodNotFound {
		t.Errorf("got code %d, want %d", we.Code, errCodeMethodNotFound)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	req := &message{Version: vsn, ID: json.RawMessage("7"), Method: "add"}
	resp := req.response(42)
	if string(resp.ID) != "7" {
		t.Errorf("response id = %s, want 7", resp.ID)
	}
	var got int
	if err := json.Unmarshal(resp.Result, &got); err != nil || got != 42 {
		t.Errorf("unexpected result: %s (err %v)", resp.Result, err)
	}
}
