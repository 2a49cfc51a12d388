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

// Package handler defines the contracts a Server plugs into a Worker:
// a Delegator that mints a Codec and a ConnectionHandler for each newly
// accepted connection, and the ConnectionHandler itself that turns
// decoded messages into responses.
package handler

import "github.com/weaveio/weaveio/codec"

// ConnectionCause identifies why a connection transitioned or closed.
// It is the closed set of values a ConnectionClosed notification or a
// Worker's own bookkeeping ever carries.
type ConnectionCause int

const (
	// LocalClose means the handler or Worker initiated the close.
	LocalClose ConnectionCause = iota
	// RemoteClose means the peer closed or reset the connection.
	RemoteClose
	// IOError means a read or write syscall failed for a reason other
	// than the peer closing cleanly.
	IOError
	// IdleTimeout means the connection was closed for exceeding its
	// idle deadline under the Server's current watermark state.
	IdleTimeout
	// ProtocolViolation means the Codec rejected bytes already
	// delivered as unrecoverable.
	ProtocolViolation
	// HandlerException means ConnectionHandler.OnOpen returned an error,
	// ConnectionHandler.OnMessage returned an error that is not a
	// protocol violation, or Delegator.OnBroadcast returned an error.
	HandlerException
	// WorkerFailure means the Worker that owned the connection died;
	// the connection is not migrated to its replacement.
	WorkerFailure
	// ServerShutdown means the owning Server initiated a graceful or
	// forced shutdown.
	ServerShutdown
	// Refused means the Worker closed the connection before any handler
	// owned it: the Server's Delegator refused it, or no Delegator was
	// attached for that Server.
	Refused
)

// String renders the cause the way log lines and tests reference it.
func (c ConnectionCause) String() string {
	switch c {
	case LocalClose:
		return "LocalClose"
	case RemoteClose:
		return "RemoteClose"
	case IOError:
		return "IOError"
	case IdleTimeout:
		return "IdleTimeout"
	case ProtocolViolation:
		return "ProtocolViolation"
	case HandlerException:
		return "HandlerException"
	case WorkerFailure:
		return "WorkerFailure"
	case ServerShutdown:
		return "ServerShutdown"
	case Refused:
		return "Refused"
	default:
		return "Unknown"
	}
}

// Connection is the narrow surface a ConnectionHandler sees of the
// Conn the Worker is driving on its behalf: enough to reply and to
// attach per-connection state, nothing that would let a handler block
// the Worker's loop.
type Connection interface {
	Write(m codec.Message) error
	SetMetaData(v interface{})
	GetMetaData() interface{}
	RemoteAddrString() string
	Close() error
}

// ConnectionHandler implements the application-level behavior for one
// connection. A Delegator mints one per accepted connection; its
// methods are only ever called from the Worker goroutine that owns the
// connection, so a ConnectionHandler needs no locking of its own
// unless it shares state across connections.
type ConnectionHandler interface {
	// OnOpen is called once, right after the connection is registered
	// with its Worker, before any OnMessage call for it.
	OnOpen(conn Connection) error
	// OnMessage is called once per Message the Codec successfully
	// decodes. Returning a codec.ErrProtocolViolation-wrapping error
	// closes the connection with cause ProtocolViolation; any other
	// error closes it with cause HandlerException.
	OnMessage(conn Connection, m codec.Message) error
	// OnClose is called once, after the connection's socket has
	// already been closed; conn must not be used for I/O.
	OnClose(conn Connection, cause ConnectionCause)
}

// Delegator is bound to one (Server, Worker) pair and mints the Codec
// and ConnectionHandler each newly accepted connection on that pairing
// gets. It also receives messages broadcast to the Server it belongs
// to, so it can fan a broadcast out across the Worker's own share of
// that Server's connections.
type Delegator interface {
	NewCodec() codec.Codec
	// AcceptConnection lets the Delegator accept or refuse a newly
	// assigned connection identified by id (its file descriptor). A
	// false second return value means refuse: the Worker closes the
	// socket immediately with cause Refused, notifies the Server's
	// CloseListener so the admission slot is released, and the
	// connection never gets an OnOpen call. The returned
	// ConnectionHandler is ignored when the bool is false.
	AcceptConnection(id int) (ConnectionHandler, bool)
	// OnBroadcast is called once per broadcast message for every
	// connection this Delegator is currently responsible for.
	OnBroadcast(conn Connection, m codec.Message) error
}
