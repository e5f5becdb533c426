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
	"bytes"
	"encoding/json"
)

const vsn = "2.0"

// Standard JSON-RPC 2.0 error codes. Application errors should use a code in
// the -32000..-32099 range instead.
const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
	errCodeInternal       = -32603

	// errCodeSubscriptionNotFound is this package's sole use of the
	// application error range, for unsubscribe-by-unknown-handle.
	errCodeSubscriptionNotFound = -32001
)

// message is the wire representation of a JSON-RPC 2.0 request, notification,
// success response, or error response. Which variant a given value holds
// depends on which fields are set; see isNotification/isCall/isResponse.
type message struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`

	// Meta is the non-standard "_meta" field for out-of-band metadata such
	// as a trace context. It is encoded and decoded with the envelope, but
	// nothing in this package sets or reads it. Unknown fields on inbound
	// messages are otherwise ignored per spec.
	Meta map[string]string `json:"_meta,omitempty"`

	// invalid marks an element of a batch (or a lone message) that failed
	// envelope validation; it is never serialized. Carrying it on the
	// message itself lets a batch evaluate every other element normally
	// while still answering this one with an error response in its
	// original position.
	invalid error
}

// wireError is the JSON-RPC error object.
type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *wireError) Error() string { return e.Message }

func (e *wireError) ErrorCode() int { return e.Code }

func (msg *message) isNotification() bool {
	return msg.ID == nil && msg.Method != ""
}

func (msg *message) isCall() bool {
	return msg.hasValidID() && msg.Method != ""
}

func (msg *message) isResponse() bool {
	return msg.hasValidID() && msg.Method == "" && len(msg.Params) == 0
}

func (msg *message) hasValidID() bool {
	return len(msg.ID) > 0 && msg.ID[0] != '{' && msg.ID[0] != '['
}

func (msg *message) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

// errorResponse builds the error response that echoes msg's id, or a null id
// when msg itself could not be parsed.
func (msg *message) errorResponse(err error) *message {
	resp := &message{Version: vsn, ID: msg.ID, Error: toWireError(err)}
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	return resp
}

func errorMessage(err error) *message {
	return &message{Version: vsn, ID: json.RawMessage("null"), Error: toWireError(err)}
}

func (msg *message) response(result interface{}) *message {
	enc, err := json.Marshal(result)
	if err != nil {
		return msg.errorResponse(&internalError{err.Error()})
	}
	return &message{Version: vsn, ID: msg.ID, Result: enc}
}

func toWireError(err error) *wireError {
	if we, ok := err.(*wireError); ok {
		return we
	}
	code := errCodeInternal
	if ec, ok := err.(errorCoder); ok {
		code = ec.ErrorCode()
	}
	we := &wireError{Code: code, Message: err.Error()}
	if de, ok := err.(dataErrorer); ok {
		if data := de.ErrorData(); data != nil {
			if enc, merr := json.Marshal(data); merr == nil {
				we.Data = enc
			}
		}
	}
	return we
}

// isBatch reports whether raw begins a JSON array, meaning it must be parsed
// as a batch of messages rather than a single message.
func isBatch(raw json.RawMessage) bool {
	for _, c := range raw {
		// skip insignificant whitespace (the only characters allowed before the
		// opening brace or bracket of a JSON value, see RFC 7159)
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '['
	}
	return false
}

// decodeMessages decodes a single inbound frame into either one message or a
// batch of messages, mirroring the shape of the input.
func decodeMessages(raw json.RawMessage) (msgs []*message, batch bool, err error) {
	if isBatch(raw) {
		err = json.Unmarshal(raw, &msgs)
		return msgs, true, err
	}
	msgs = make([]*message, 1)
	err = json.Unmarshal(raw, &msgs[0])
	return msgs, false, err
}

// parseMessage is the strict entry point used by both the server and client
// read paths. A frame that cannot be decoded at all yields a single
// *parseError, and an empty batch a single *invalidRequestError.
// Once the frame itself decodes, each batch element is validated
// independently: an element with a bad envelope is flagged via its invalid
// field rather than aborting the rest of the batch, so a mix of good and bad
// elements still evaluates the good ones and answers the bad ones in place,
// per spec §4.5.
func parseMessage(raw json.RawMessage) (msgs []*message, batch bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, &parseError{"empty message"}
	}
	msgs, batch, err = decodeMessages(trimmed)
	if err != nil {
		return nil, batch, &parseError{err.Error()}
	}
	if batch && len(msgs) == 0 {
		return nil, true, &invalidRequestError{"empty batch"}
	}
	for i, m := range msgs {
		if m == nil {
			msgs[i] = &message{invalid: &invalidRequestError{"null message in batch"}}
			continue
		}
		if m.Version != vsn {
			m.invalid = &invalidRequestError{"missing or invalid jsonrpc field"}
		}
	}
	return msgs, batch, nil
}
