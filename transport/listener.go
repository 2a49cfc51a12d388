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

package transport

import (
	"fmt"
	"net"

	"github.com/weaveio/weaveio/internal/iovec"
	"github.com/weaveio/weaveio/internal/netutil"
	"github.com/weaveio/weaveio/internal/poller"
)

// Listener wraps a bound, listening TCP socket. Accept produces bare
// Conns with no poller binding; the worker package binds each accepted
// Conn to the accepting Worker's own PollMgr, so a Listener never picks
// which poller a connection ends up on.
type Listener struct {
	nfd netFD
}

// Listen opens a TCP listener on address. network must be "tcp", "tcp4"
// or "tcp6".
func Listen(network, address string) (*Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("transport: unknown network %s", network)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewListener(ln)
}

// NewListener wraps an already-bound net.Listener, the way a host
// process that wants SO_REUSEPORT semantics constructs its own
// net.Listener (e.g. via go_reuseport.Listen) and hands it in.
func NewListener(ln net.Listener) (*Listener, error) {
	fd, err := netutil.GetFD(ln)
	if err != nil {
		return nil, fmt.Errorf("transport: get listener fd: %w", err)
	}
	return &Listener{
		nfd: netFD{
			fd:      fd,
			fdtype:  fdListen,
			sock:    ln,
			network: ln.Addr().Network(),
			laddr:   ln.Addr(),
		},
	}, nil
}

// FD returns the listener's file descriptor.
func (l *Listener) FD() int { return l.nfd.fd }

// Addr returns the listener's local address.
func (l *Listener) Addr() net.Addr { return l.nfd.laddr }

// Accept accepts one pending connection and returns it unbound from any
// poller. It is non-blocking: when no connection is pending it returns
// EAGAIN, matching the rest of the package's never-block convention.
func (l *Listener) Accept() (*Conn, error) {
	fd, sa, err := netutil.Accept(l.FD())
	if err != nil {
		return nil, netError{error: err}
	}
	nfd := netFD{
		fd:      fd,
		fdtype:  fdTCP,
		network: l.nfd.network,
		laddr:   l.nfd.laddr,
		raddr:   netutil.SockaddrToTCPOrUnixAddr(sa),
	}
	conn := newConn(nfd)
	if err := conn.nfd.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: accepted conn set no delay: %w", err)
	}
	return conn, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	l.nfd.close()
	return nil
}

// Bind registers the listener's fd with a poller drawn from mgr so
// onAcceptable is invoked whenever a connection is pending and onHup
// when the listening socket itself goes away. The server package calls
// this once, from its own accept goroutine, with a PollMgr it owns
// exclusively: a listening socket's readiness never shares a Worker's
// selector.
func (l *Listener) Bind(mgr *poller.PollMgr, onAcceptable func(), onHup func()) error {
	return l.nfd.schedule(
		mgr,
		func(interface{}, *iovec.IOData) error { onAcceptable(); return nil },
		nil,
		func(interface{}) { onHup() },
		l,
	)
}
