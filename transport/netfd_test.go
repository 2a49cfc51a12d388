// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveio/weaveio/internal/iovec"
)

func TestListenAndDialRoundTrip(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := acceptBlocking(t, ln)
		assert.NoError(t, err)
		accepted <- c
	}()

	client, err := DialTCP("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	n, err := server.Writev([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Eventually(t, func() bool {
		ioData := iovec.NewIOData()
		_ = client.Fill(&ioData)
		return client.Len() >= 5
	}, time.Second, time.Millisecond)

	got, err := client.Peek(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestConnPeekEAGAINWhenDataMissing(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := DialTCP("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Peek(10)
	assert.Equal(t, EAGAIN, err)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := DialTCP("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsActive())

	_, err = client.Peek(1)
	assert.Equal(t, ErrConnClosed, err)
}

func TestSetNoDelayOnUnboundNetFD(t *testing.T) {
	nfd := &netFD{}
	assert.Error(t, nfd.SetNoDelay(false))
}

func acceptBlocking(t *testing.T, ln *Listener) (*Conn, error) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c, err := ln.Accept()
		if err == nil {
			return c, nil
		}
		if err == EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		return nil, err
	}
	return nil, EAGAIN
}
