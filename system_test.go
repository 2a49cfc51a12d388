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

package weaveio

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveio/weaveio/codec"
	"github.com/weaveio/weaveio/handler"
	"github.com/weaveio/weaveio/server"
)

// lineCodec treats one Write/Decode call's worth of bytes as a single
// message, enough to exercise Attach/Connect/Broadcast without pulling
// in the httpcodec state machine.
type lineCodec struct{}

func (lineCodec) Decode(r codec.Reader) (codec.Message, error) {
	n := r.Len()
	if n == 0 {
		return nil, codec.ErrIncomplete
	}
	b, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), b...)
	if err := r.Skip(n); err != nil {
		return nil, err
	}
	r.Release()
	return out, nil
}

func (lineCodec) Encode(m codec.Message) ([][]byte, error) {
	return [][]byte{m.([]byte)}, nil
}

type recordingHandler struct {
	mu         sync.Mutex
	opened     int
	msgs       [][]byte
	gotMsg     chan struct{}
	sendOnOpen []byte
}

func (h *recordingHandler) OnOpen(conn handler.Connection) error {
	h.mu.Lock()
	h.opened++
	send := h.sendOnOpen
	h.mu.Unlock()
	if send != nil {
		return conn.Write(send)
	}
	return nil
}

func (h *recordingHandler) OnMessage(conn handler.Connection, m codec.Message) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, m.([]byte))
	h.mu.Unlock()
	if h.gotMsg != nil {
		h.gotMsg <- struct{}{}
	}
	return nil
}

func (h *recordingHandler) OnClose(handler.Connection, handler.ConnectionCause) {}

type echoDelegator struct {
	handler *recordingHandler
}

func (d *echoDelegator) NewCodec() codec.Codec { return lineCodec{} }
func (d *echoDelegator) AcceptConnection(id int) (handler.ConnectionHandler, bool) {
	return d.handler, true
}
func (d *echoDelegator) OnBroadcast(conn handler.Connection, m codec.Message) error {
	return conn.Write(m)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNewDefaultsWorkerCount(t *testing.T) {
	sys, err := New(Config{Name: "test"})
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())
	assert.Equal(t, "test", sys.Name())
	assert.NotNil(t, sys.Sink())
}

func TestNewRejectsNegativeWorkerCount(t *testing.T) {
	_, err := New(Config{Name: "test", NumWorkers: -1})
	require.Error(t, err)
}

func TestAttachRejectsDuplicateName(t *testing.T) {
	sys, err := New(Config{Name: "test", NumWorkers: 2})
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	rh := &recordingHandler{}
	settings := server.DefaultSettings(freePort(t), 0)
	_, err = sys.Attach("echo", settings, func() handler.Delegator { return &echoDelegator{handler: rh} })
	require.NoError(t, err)

	_, err = sys.Attach("echo", settings, func() handler.Delegator { return &echoDelegator{handler: rh} })
	assert.Error(t, err)
}

func TestAttachConnectAndMessageRoundTrip(t *testing.T) {
	sys, err := New(Config{Name: "test", NumWorkers: 2})
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	port := freePort(t)
	serverRH := &recordingHandler{gotMsg: make(chan struct{}, 1)}
	settings := server.DefaultSettings(port, 0)
	_, err = sys.Attach("echo", settings, func() handler.Delegator { return &echoDelegator{handler: serverRH} })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conn, dialErr := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if dialErr != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	clientRH := &recordingHandler{sendOnOpen: []byte("hello from client")}
	_, err = sys.Attach("echo-client", server.DefaultSettings(0, 0), func() handler.Delegator {
		return &echoDelegator{handler: clientRH}
	})
	require.NoError(t, err)

	require.NoError(t, sys.Connect("echo-client", "127.0.0.1:"+strconv.Itoa(port), time.Second))

	select {
	case <-serverRH.gotMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never received the client's message")
	}

	serverRH.mu.Lock()
	assert.Equal(t, [][]byte{[]byte("hello from client")}, serverRH.msgs)
	assert.Equal(t, 1, serverRH.opened)
	serverRH.mu.Unlock()
}

// Connect's contract is "dial, then hand off to a Worker under this
// name"; it does not itself check that the name was ever Attach'd, so
// dialing succeeds even for a server name with no Delegator registered
// (the Worker simply has nothing to route the connection's Codec to).
func TestConnectDoesNotValidateServerNameAgainstAttach(t *testing.T) {
	sys, err := New(Config{Name: "test", NumWorkers: 1})
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = sys.Connect("never-attached", ln.Addr().String(), time.Second)
	assert.NoError(t, err)
}

func TestShutdownIsIdempotentAndStopsWorkers(t *testing.T) {
	sys, err := New(Config{Name: "test", NumWorkers: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))
	require.NoError(t, sys.Shutdown(ctx))
}
