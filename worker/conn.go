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

package worker

import (
	"github.com/weaveio/weaveio/codec"
	"github.com/weaveio/weaveio/handler"
)

// wrappedConn is the handler.Connection a ConnectionHandler or
// Delegator sees. It is only ever constructed inside the Worker's own
// loop and handed to a callback that runs synchronously within that
// same call, so it never outlives the goroutine that's allowed to use it.
type wrappedConn struct {
	w     *Worker
	entry *connEntry
}

// Write encodes m with the connection's Codec and queues the resulting
// bytes for writing.
func (c *wrappedConn) Write(m codec.Message) error {
	bs, err := c.entry.codec.Encode(m)
	if err != nil {
		return err
	}
	_, err = c.entry.conn.Writev(bs...)
	return err
}

// SetMetaData attaches arbitrary per-connection data.
func (c *wrappedConn) SetMetaData(v interface{}) { c.entry.conn.SetMetaData(v) }

// GetMetaData returns the data last passed to SetMetaData.
func (c *wrappedConn) GetMetaData() interface{} { return c.entry.conn.GetMetaData() }

// RemoteAddrString returns the peer address as a string.
func (c *wrappedConn) RemoteAddrString() string {
	if addr := c.entry.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close closes the connection and runs its handler's OnClose with cause
// LocalClose. Safe to call from inside OnMessage/OnOpen: the Worker's
// closeConn guards on the fd still being present in its map, so a
// handler that closes itself mid-dispatch never gets OnClose called twice.
func (c *wrappedConn) Close() error {
	c.w.closeConn(c.entry.conn.FD(), handler.LocalClose)
	return nil
}
