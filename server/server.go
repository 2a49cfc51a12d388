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

// Package server owns one listening socket, the admission-control and
// watermark policy that gates which accepted connections ever reach a
// Worker, and the state machine (Initializing, Binding, Bound,
// Terminated) a ServerRef observes from any goroutine.
package server

import (
	"context"
	"fmt"
	"time"

	goreuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/weaveio/weaveio/handler"
	"github.com/weaveio/weaveio/internal/locker"
	"github.com/weaveio/weaveio/internal/poller"
	"github.com/weaveio/weaveio/metrics"
	"github.com/weaveio/weaveio/transport"
	"github.com/weaveio/weaveio/worker"
)

// State is a Server's position in its Initializing -> Binding -> Bound
// -> Terminated lifecycle.
type State int32

const (
	Initializing State = iota
	Binding
	Bound
	Terminated
)

// String renders the state the way log lines and tests reference it.
func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Binding:
		return "Binding"
	case Bound:
		return "Bound"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ConnAssigner is the narrow slice of wmanager.Manager a Server needs:
// somewhere to hand off an admitted connection. Kept as an interface so
// this package does not import wmanager.
type ConnAssigner interface {
	AssignConn(ac worker.AcceptedConn)
}

// Server owns a listening socket and the accept loop that admits
// connections into it, driven by its own single-poller PollMgr,
// entirely separate from any Worker's selector.
type Server struct {
	name     string
	settings Settings
	assigner ConnAssigner
	log      *zap.SugaredLogger
	sink     metrics.Sink

	state       atomic.Int32
	volumeState atomic.Value
	volMu       locker.Locker

	openConnections atomic.Int64

	listener *transport.Listener
	pollMgr  *poller.PollMgr

	stopCh chan struct{}
	doneCh chan struct{}
	hupCh  chan struct{}
}

// New creates a Server in state Initializing. settings must already
// have passed Validate.
func New(name string, settings Settings, assigner ConnAssigner, log *zap.SugaredLogger, sink metrics.Sink) *Server {
	s := &Server{
		name:     name,
		settings: settings,
		assigner: assigner,
		log:      log,
		sink:     sink,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		hupCh:    make(chan struct{}),
	}
	s.state.Store(int32(Initializing))
	s.volumeState.Store(Normal)
	return s
}

// Name returns the Server's name, the identifier it is attached to a
// WorkerManager and its Workers' Delegators under.
func (s *Server) Name() string { return s.name }

// State returns the Server's current lifecycle state. Safe to call
// from any goroutine.
func (s *Server) State() State { return State(s.state.Load()) }

// VolumeState returns the Server's current connection-volume state.
// Safe to call from any goroutine; per spec.md §5, a reader may observe
// either the previous or the new value around a transition, never a
// torn one.
func (s *Server) VolumeState() VolumeState {
	v, _ := s.volumeState.Load().(VolumeState)
	return v
}

// OpenConnections returns the Server's current admitted-connection count.
func (s *Server) OpenConnections() int64 { return s.openConnections.Load() }

// MaxIdleTime implements worker.IdlePolicy: HighWater connections get
// the shorter highWaterMaxIdleTime bound, everything else gets the
// ordinary maxIdleTime (0 meaning infinite).
func (s *Server) MaxIdleTime() time.Duration {
	if s.VolumeState() == HighWater {
		return s.settings.HighWaterMaxIdleTime
	}
	return s.settings.MaxIdleTime
}

// Start binds the listening socket with exponential-ish backoff and
// then runs the accept loop until ctx is cancelled or Shutdown is
// called. It blocks until the Server terminates, so callers run it on
// its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CAS(int32(Initializing), int32(Binding)) {
		return errors.New("server: Start called more than once")
	}

	ln, err := s.bindWithBackoff(ctx)
	if err != nil {
		s.state.Store(int32(Terminated))
		return err
	}
	s.listener = ln

	mgr, err := poller.NewPollMgr(poller.RoundRobin, 1)
	if err != nil {
		ln.Close()
		s.state.Store(int32(Terminated))
		return errors.Wrap(err, "server: new poll manager")
	}
	s.pollMgr = mgr

	if err := ln.Bind(mgr, s.onAcceptable, s.onHup); err != nil {
		ln.Close()
		mgr.Close()
		s.state.Store(int32(Terminated))
		return errors.Wrap(err, "server: bind listener to poller")
	}

	s.state.Store(int32(Bound))
	s.log.Infow("server bound", "server", s.name, "addr", ln.Addr().String())

	defer close(s.doneCh)
	select {
	case <-ctx.Done():
		s.teardown()
		return ctx.Err()
	case <-s.stopCh:
		s.teardown()
		return nil
	case <-s.hupCh:
		s.teardown()
		return errors.New("server: listener closed unexpectedly")
	}
}

func (s *Server) bindWithBackoff(ctx context.Context) (*transport.Listener, error) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 2 * time.Second
	for {
		ln, err := s.bind()
		if err == nil {
			return ln, nil
		}
		s.log.Errorw("server bind failed, retrying", "server", s.name, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Server) bind() (*transport.Listener, error) {
	addr := fmt.Sprintf(":%d", s.settings.Port)
	if s.settings.ReusePort {
		ln, err := goreuseport.Listen("tcp", addr)
		if err != nil {
			return nil, wrapBindErr(err)
		}
		tln, err := transport.NewListener(ln)
		if err != nil {
			return nil, wrapBindErr(err)
		}
		return tln, nil
	}
	ln, err := transport.Listen("tcp", addr)
	if err != nil {
		return nil, wrapBindErr(err)
	}
	return ln, nil
}

// onAcceptable is invoked on the Server's own poller Wait() goroutine
// whenever the listening socket has at least one pending connection.
// It drains every pending connection in one pass, accepting until
// Accept reports that none is left.
func (s *Server) onAcceptable() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isTemporary(err) {
				return
			}
			s.log.Errorw("server accept error", "server", s.name, "error", err)
			return
		}
		s.sink.Rate(s.name + ".connects").Hit(nil)
		if !s.tryAdmit() {
			conn.Close()
			s.sink.Rate(s.name + ".refused").Hit(nil)
			continue
		}
		s.assigner.AssignConn(worker.AcceptedConn{ServerName: s.name, Conn: conn})
		s.updateVolumeState()
	}
}

func (s *Server) onHup() { close(s.hupCh) }

// tryAdmit atomically reserves one connection slot if maxConnections
// (0 meaning unlimited) has not been reached. It is the only path by
// which openConnections is incremented, so openConnections never
// exceeds maxConnections even under concurrent accepts.
func (s *Server) tryAdmit() bool {
	if s.settings.MaxConnections <= 0 {
		s.openConnections.Inc()
		return true
	}
	for {
		cur := s.openConnections.Load()
		if cur >= int64(s.settings.MaxConnections) {
			return false
		}
		if s.openConnections.CAS(cur, cur+1) {
			return true
		}
	}
}

// ConnectionClosed implements worker.CloseListener: it is called by
// every Worker once one of this Server's connections has actually
// closed, so the Server can release the admission slot and re-evaluate
// its volume state. cause drives only the closed rate; the pure
// transition function never looks at it.
func (s *Server) ConnectionClosed(serverName string, cause handler.ConnectionCause) {
	if serverName != s.name {
		return
	}
	s.openConnections.Dec()
	s.sink.Rate(s.name + ".closed." + cause.String()).Hit(nil)
	s.updateVolumeState()
}

// updateVolumeState is called both from the Server's own poller Wait()
// goroutine (onAcceptable, after admitting a connection) and from every
// Worker's loop goroutine (ConnectionClosed, after a close). volMu
// makes the load-compute-store one atomic unit across both callers, so
// the transition never drops an interleaved update and ".highwaters"
// fires exactly once per Normal->HighWater crossing.
func (s *Server) updateVolumeState() {
	s.volMu.Lock()
	defer s.volMu.Unlock()

	open := int(s.openConnections.Load())
	low, high := s.settings.lowWatermark, s.settings.highWatermark
	prev := s.VolumeState()
	next := TransitionVolumeState(prev, open, low, high)
	if next == prev {
		return
	}
	s.volumeState.Store(next)
	if next == HighWater {
		s.sink.Rate(s.name + ".highwaters").Hit(nil)
	}
}

// Shutdown stops the accept loop and waits for Start to return. It
// never touches any Worker or the connections already handed off to
// one; draining or force-closing those is wmanager.Manager.Shutdown's
// job, one layer up.
func (s *Server) Shutdown(context.Context) error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
	return nil
}

func (s *Server) teardown() {
	s.state.Store(int32(Terminated))
	if s.pollMgr != nil {
		s.pollMgr.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	te, ok := err.(temporary)
	return ok && te.Temporary()
}
