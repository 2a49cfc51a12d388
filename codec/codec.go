//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package codec defines the contract a Worker uses to turn bytes read
// off a Conn into application messages, and application messages back
// into bytes. A Codec is stateful across Decode calls on one connection
// (it tracks where it is in a multi-step parse) but must encode without
// depending on any state left over from a previous Encode call.
package codec

import "github.com/pkg/errors"

// Reader is the narrow slice of transport.Conn a Codec decodes from:
// zero-copy peek/skip/release plus a length check, never a blocking read.
type Reader interface {
	Peek(n int) ([]byte, error)
	Skip(n int) error
	Release()
	Len() int
}

// ErrIncomplete is returned by Decode when the connection's buffered
// bytes do not yet hold a complete message. It is not an error
// condition for the caller: the Worker simply waits for the next
// readiness message before calling Decode again.
var ErrIncomplete = errors.New("codec: incomplete message")

// ErrProtocolViolation is the class of error a Codec returns when bytes
// already delivered can never be completed into a valid message. A
// Worker that receives a ProtocolViolation error closes the connection
// with cause ProtocolViolation; it never calls Decode again afterward.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return "codec: protocol violation: " + e.Reason
}

// NewProtocolViolation builds a ProtocolViolation error with reason.
func NewProtocolViolation(reason string) error {
	return &ErrProtocolViolation{Reason: reason}
}

// IsProtocolViolation reports whether err is, or wraps, a ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var pv *ErrProtocolViolation
	return errors.As(err, &pv)
}

// Codec decodes bytes already buffered on a connection into exactly one
// Message per successful Decode call, and encodes a Message produced by
// a ConnectionHandler back into the byte slices a Conn.Writev call sends.
//
// Decode must not block and must not retain r past the call: it Peeks
// what it needs, Skips what it consumed, and calls Release once it is
// done with the bytes it Peeked. Returning ErrIncomplete leaves the
// connection's buffer untouched so the next Decode call, after more
// bytes arrive, starts from the same position.
type Codec interface {
	Decode(r Reader) (Message, error)
	Encode(m Message) ([][]byte, error)
}

// Message is the opaque unit a Codec produces and consumes. Concrete
// codecs define their own message types satisfying it; the Worker and
// ConnectionHandler never need to know more than that it came from, or
// is going to, a particular Codec.
type Message interface{}
