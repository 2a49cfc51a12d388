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

// Conn wraps a netFD with the read/write buffers a codec decodes from
// and encodes into. A Conn never blocks a caller waiting for more bytes
// to arrive and never dispatches a handler itself: the worker package is
// the only caller that ever touches Fill/Peek/Skip/Writev, always from
// the single goroutine that owns the Conn, in response to a readiness
// message the netFD's poller callbacks enqueued. There is exactly one
// reader and it never waits.

package transport

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/weaveio/weaveio/internal/autopostpone"
	"github.com/weaveio/weaveio/internal/buffer"
	"github.com/weaveio/weaveio/internal/cache/systype"
	"github.com/weaveio/weaveio/internal/iovec"
	"github.com/weaveio/weaveio/internal/locker"
	"github.com/weaveio/weaveio/internal/poller"
	"github.com/weaveio/weaveio/internal/safejob"
	"github.com/weaveio/weaveio/metrics"
)

// netError carries an isTimeout bit alongside the wrapped cause, the way
// tcpconn's own error values did.
type netError struct {
	error
	isTimeout bool
}

// Timeout reports whether the error represents a timeout.
func (e netError) Timeout() bool { return e.isTimeout }

// Temporary reports whether the error is one a caller may reasonably
// retry, satisfying the net.Error convention.
func (e netError) Temporary() bool {
	switch e.error {
	case unix.EAGAIN, unix.ECONNRESET, unix.ECONNABORTED:
		return true
	default:
		return false
	}
}

var (
	// ErrConnClosed is returned by any Conn operation once Close has run.
	ErrConnClosed = netError{error: errors.New("transport: conn is closed")}
	// EAGAIN is returned by Peek/Skip when the requested bytes have not
	// arrived yet, and by Listener.Accept when no connection is pending;
	// callers must retry after the next readiness message.
	EAGAIN = netError{error: unix.EAGAIN}
)

// Conn is a non-blocking TCP connection. All reads and writes assume a
// single owning goroutine; Conn does no internal synchronization beyond
// what Close needs to be safely idempotent from any goroutine.
type Conn struct {
	nfd netFD

	inBuf  buffer.Buffer
	outBuf buffer.Buffer

	writevData iovec.IOData
	writing    locker.Locker
	postpone   autopostpone.PostponeWrite

	closeJob safejob.OnceJob
	onClosed func(*Conn)

	metaData interface{}
}

// FD returns the connection's underlying file descriptor.
func (c *Conn) FD() int { return c.nfd.FD() }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.nfd.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nfd.RemoteAddr() }

// IsActive reports whether the connection has not yet been closed.
func (c *Conn) IsActive() bool { return !c.closeJob.Closed() }

// SetKeepAlive sets the TCP keepalive interval; t<=0 leaves it untouched.
func (c *Conn) SetKeepAlive(t time.Duration) error {
	if t <= 0 {
		return nil
	}
	return c.nfd.SetKeepAlive(int(math.Ceil(t.Seconds())))
}

// SetNoDelay sets or clears TCP_NODELAY.
func (c *Conn) SetNoDelay(noDelay bool) error { return c.nfd.SetNoDelay(noDelay) }

// SetMetaData attaches arbitrary per-connection data, the way Worker
// attaches a ConnectionHandler and Delegator to a Conn.
func (c *Conn) SetMetaData(m interface{}) { c.metaData = m }

// GetMetaData returns the data last passed to SetMetaData.
func (c *Conn) GetMetaData() interface{} { return c.metaData }

// Len returns the number of unread bytes currently buffered.
func (c *Conn) Len() int {
	if !c.IsActive() {
		return 0
	}
	return c.inBuf.LenRead()
}

// Peek returns the next n bytes without advancing the read position. It
// returns EAGAIN, never blocks, when fewer than n bytes are buffered.
func (c *Conn) Peek(n int) ([]byte, error) {
	if !c.IsActive() {
		return nil, ErrConnClosed
	}
	if c.inBuf.LenRead() < n {
		return nil, EAGAIN
	}
	return c.inBuf.Peek(n)
}

// Skip advances the read position past n bytes. It returns EAGAIN, never
// blocks, when fewer than n bytes are buffered.
func (c *Conn) Skip(n int) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if c.inBuf.LenRead() < n {
		return EAGAIN
	}
	return c.inBuf.Skip(n)
}

// Release releases the buffer space backing bytes returned by Peek.
func (c *Conn) Release() {
	if !c.IsActive() {
		return
	}
	c.inBuf.Release()
}

// Fill drains whatever is currently readable on the socket into the
// input buffer. It is called exactly once per OnRead readiness message,
// from the worker loop, never from a poller callback goroutine.
func (c *Conn) Fill(ioData *iovec.IOData) error {
	if err := c.inBuf.Fill(&c.nfd, 0, ioData); err != nil {
		if err == buffer.ErrBufferFull {
			return nil
		}
		return errors.Wrap(err, "transport: conn fill")
	}
	return nil
}

// Write writes b to the connection; see Writev.
func (c *Conn) Write(b []byte) (int, error) { return c.Writev(b) }

// Writev queues p for writing and attempts to flush it immediately,
// falling back to a poller-driven write-readiness notification when the
// socket's send buffer is full.
func (c *Conn) Writev(p ...[]byte) (int, error) {
	if !c.IsActive() {
		return 0, ErrConnClosed
	}
	n := c.outBuf.Writev(false, p...)
	var err error
	if c.postpone.Enabled() {
		err = c.notify()
	} else {
		err = c.flush()
	}
	if err != nil {
		c.Close()
		return n, err
	}
	return n, nil
}

func (c *Conn) writeToNetFD() error {
	var (
		n   int
		err error
	)
	if c.writevData.IsNil() {
		n, err = c.writeWithCachedIOData()
	} else {
		n, err = c.writeWithAdhocIOData()
	}
	if err != nil {
		return errors.Wrap(err, "transport: conn write with IOData")
	}
	if err := c.outBuf.Skip(n); err != nil {
		return errors.Wrap(err, fmt.Sprintf("transport: output buffer skip %d", n))
	}
	c.outBuf.Release()
	return nil
}

func (c *Conn) writeWithCachedIOData() (int, error) {
	bs, w1 := systype.GetIODatas(systype.MaxLen)
	if w1 != nil {
		defer systype.PutIODatas(w1)
	}
	l := c.outBuf.PeekBlocks(bs)
	c.postpone.CheckAndDisablePostponeWrite(l)
	ivs, w2 := systype.GetIOVECWrapper(bs[:l])
	if w2 != nil {
		defer systype.PutIOVECWrapper(w2)
	}
	return c.nfd.Writev(ivs)
}

func (c *Conn) writeWithAdhocIOData() (int, error) {
	l := c.outBuf.PeekBlocks(c.writevData.ByteVec)
	c.postpone.CheckAndDisablePostponeWrite(l)
	c.writevData.SetIOVec(l)
	n, err := c.nfd.Writev(c.writevData.IOVec[:l])
	if err != nil {
		return 0, errors.Wrap(err, "transport: conn writev")
	}
	c.writevData.Release(l)
	return n, nil
}

// notify asks the poller to report write-readiness instead of writing
// inline, used when postponed writes are enabled under heavy load.
func (c *Conn) notify() error {
	if !c.writing.TryLock() {
		return nil
	}
	metrics.Add(metrics.TCPWriteNotify, 1)
	return c.nfd.Control(poller.ModReadWriteable)
}

// flush tries to write directly; on EAGAIN it falls back to asking the
// poller for write-readiness. Called both from Writev and from the
// worker loop's OnWrite readiness handling.
func (c *Conn) flush() error {
	if !c.writing.TryLock() {
		return nil
	}
	if err := c.writeToNetFD(); err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			return err
		}
		metrics.Add(metrics.TCPWriteNotify, 1)
		return c.nfd.Control(poller.ModReadWriteable)
	}
	metrics.Add(metrics.TCPFlushCalls, 1)
	if c.outBuf.LenRead() != 0 {
		metrics.Add(metrics.TCPWriteNotify, 1)
		return c.nfd.Control(poller.ModReadWriteable)
	}
	c.writing.Unlock()

	if c.outBuf.LenRead() != 0 && c.writing.TryLock() {
		metrics.Add(metrics.TCPWriteNotify, 1)
		return c.nfd.Control(poller.ModReadWriteable)
	}
	return nil
}

// OnWriteReady is invoked by the worker loop when the poller reports the
// socket is writable again; it drains whatever remains queued.
func (c *Conn) OnWriteReady() error {
	metrics.Add(metrics.TCPOnWriteCalls, 1)
	if err := c.writeToNetFD(); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if c.outBuf.LenRead() != 0 {
		return nil
	}
	if err := c.nfd.Control(poller.ModReadable); err != nil {
		return err
	}
	c.writing.Unlock()

	if c.outBuf.LenRead() != 0 && c.writing.TryLock() {
		metrics.Add(metrics.TCPWriteNotify, 1)
		return c.nfd.Control(poller.ModReadWriteable)
	}
	return nil
}

// SetOnClosed sets the function called once, synchronously, at the end
// of Close.
func (c *Conn) SetOnClosed(fn func(*Conn)) { c.onClosed = fn }

// Close closes the connection; it is idempotent and safe to call from
// any goroutine, though in practice only the owning worker and the
// netFD's own OnHup callback ever call it.
func (c *Conn) Close() error {
	if !c.closeJob.Begin() {
		return nil
	}
	if c.onClosed != nil {
		c.onClosed(c)
	}
	c.nfd.close()
	c.inBuf.Free()
	c.outBuf.Free()
	metrics.Add(metrics.TCPConnsClose, 1)
	return nil
}

// Bind registers the connection's fd with a poller drawn from mgr,
// routing OnRead/OnWrite/OnHup through the worker-owned callbacks given.
// It is the sole entry point through which a Conn joins a poller: the
// worker package calls it once, right after accepting or dialing, always
// from the worker's own loop goroutine.
func (c *Conn) Bind(
	mgr *poller.PollMgr,
	onRead func(data interface{}, ioData *iovec.IOData) error,
	onWrite func(data interface{}) error,
	onHup func(data interface{}),
) error {
	return c.nfd.schedule(mgr, onRead, onWrite, onHup, c)
}

func newConn(nfd netFD) *Conn {
	c := &Conn{nfd: nfd}
	c.inBuf.Initialize()
	c.outBuf.Initialize()
	metrics.Add(metrics.TCPConnsCreate, 1)
	return c
}
