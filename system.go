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

// Package weaveio is the root façade: it ties a WorkerManager, a
// metrics sink and a Task runtime together into one process-scoped
// IOSystem, and is the only package an application imports to attach
// Servers, run ad-hoc Tasks, and dial outbound connections through the
// same Worker pool that serves inbound ones.
package weaveio

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/weaveio/weaveio/handler"
	"github.com/weaveio/weaveio/metrics"
	"github.com/weaveio/weaveio/server"
	"github.com/weaveio/weaveio/task"
	"github.com/weaveio/weaveio/transport"
	"github.com/weaveio/weaveio/wmanager"
	"github.com/weaveio/weaveio/worker"
)

// Config configures one IOSystem. NumWorkers==0 defaults to
// runtime.GOMAXPROCS(0), the way a host process that never thought
// about worker sizing still gets a usable pool; a negative NumWorkers
// is rejected by Validate.
type Config struct {
	Name                 string
	NumWorkers           int
	IdleTickInterval     time.Duration
	ShutdownDrainTimeout time.Duration
	MailboxSize          int
	Log                  *zap.SugaredLogger
	Sink                 metrics.Sink
}

// Validate checks the invariants spec'd for IOSystemConfig.
func (c *Config) Validate() error {
	if c.NumWorkers < 0 {
		return &server.FatalConfig{Reason: "numWorkers must be >= 0"}
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.NumWorkers <= 0 {
		out.NumWorkers = runtime.GOMAXPROCS(0)
	}
	if out.IdleTickInterval <= 0 {
		out.IdleTickInterval = 100 * time.Millisecond
	}
	if out.ShutdownDrainTimeout <= 0 {
		out.ShutdownDrainTimeout = 5 * time.Second
	}
	if out.MailboxSize <= 0 {
		out.MailboxSize = 1024
	}
	if out.Log == nil {
		out.Log = zap.NewNop().Sugar()
	}
	if out.Sink == nil {
		out.Sink = metrics.NewDefaultSink()
	}
	return out
}

// IOSystem is a process-scoped handle tying a WorkerManager, a metrics
// sink and a Task runtime together. Multiple IOSystems may coexist in
// one process; there are no cross-system invariants.
type IOSystem struct {
	name    string
	cfg     Config
	log     *zap.SugaredLogger
	sink    metrics.Sink
	manager *wmanager.Manager

	mu      sync.Mutex
	servers map[string]*server.Server
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// New constructs an IOSystem and its Worker pool. Every Worker is
// already running its own loop goroutine by the time New returns.
func New(cfg Config) (*IOSystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	full := cfg.withDefaults()

	workerSettings := worker.Settings{IdleTickInterval: full.IdleTickInterval, MailboxSize: full.MailboxSize}
	managerSettings := wmanager.Settings{NumWorkers: full.NumWorkers, Worker: workerSettings}
	mgr, err := wmanager.New(full.Log, full.Sink, managerSettings)
	if err != nil {
		return nil, errors.Wrap(err, "weaveio: new worker manager")
	}

	return &IOSystem{
		name:    full.Name,
		cfg:     full,
		log:     full.Log,
		sink:    full.Sink,
		manager: mgr,
		servers: make(map[string]*server.Server),
		cancels: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
	}, nil
}

// Name returns the IOSystem's name.
func (s *IOSystem) Name() string { return s.name }

// Sink returns the IOSystem's metrics sink, for callers that want to
// read or export the same counters the core itself writes to.
func (s *IOSystem) Sink() metrics.Sink { return s.sink }

// Attach creates a Server named name with settings, binds its listening
// socket (retrying with backoff in the background), and registers
// delegatorFactory with every Worker in the pool under that name.
// delegatorFactory is called once per (Server, Worker) pair, matching
// the one-Delegator-per-pairing lifetime.
func (s *IOSystem) Attach(name string, settings server.Settings, delegatorFactory func() handler.Delegator) (*server.Server, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.servers[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("weaveio: server %q already attached", name)
	}
	srv := server.New(name, settings, s.manager, s.log, s.sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.servers[name] = srv
	s.cancels[name] = cancel
	s.done[name] = done
	s.mu.Unlock()

	s.manager.Attach(name, wmanager.DelegatorFactory(delegatorFactory), srv, srv)

	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil && errors.Cause(err) != context.Canceled {
			s.log.Errorw("weaveio: server stopped", "server", name, "error", err)
		}
	}()

	return srv, nil
}

// Broadcast fans msg out to every connection currently attached to the
// Server named serverName, across every Worker.
func (s *IOSystem) Broadcast(serverName string, msg interface{}) {
	s.manager.Broadcast(serverName, msg)
}

// Run binds t to a Worker chosen by the same round-robin policy
// inbound connections use, and returns the Proxy that delivers it
// further messages. t.OnStart runs asynchronously, on that Worker's
// own loop goroutine, once the binding message is drained.
func (s *IOSystem) Run(t task.Task) (task.Proxy, error) {
	return s.manager.RunTask(t)
}

// Connect dials address and hands the resulting connection to a Worker
// chosen by the same round-robin policy inbound connections use, so
// outbound connections are driven by the identical event loop and
// Codec contract. serverName identifies which attached Server's
// Delegator mints the Codec and ConnectionHandler for this connection;
// it must already have been Attach'd.
func (s *IOSystem) Connect(serverName, address string, timeout time.Duration) error {
	conn, err := transport.DialTCP("tcp", address, timeout)
	if err != nil {
		return errors.Wrap(err, "weaveio: dial")
	}
	s.manager.AssignConn(worker.AcceptedConn{ServerName: serverName, Conn: conn})
	return nil
}

// Shutdown stops every attached Server from accepting, then waits until
// cfg.ShutdownDrainTimeout has passed or ctx is done, during which
// Workers keep serving their connections and handlers may finish writes
// and close on their own. The wait does not end early once every
// connection has closed, and handlers receive no close signal before it
// ends. Afterwards every Worker is stopped and whatever is still open is
// force-closed with cause ServerShutdown.
func (s *IOSystem) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	dones := make([]chan struct{}, 0, len(s.done))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	for _, d := range s.done {
		dones = append(dones, d)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, d := range dones {
		<-d
	}

	drain, cancel := context.WithTimeout(ctx, s.cfg.ShutdownDrainTimeout)
	defer cancel()
	<-drain.Done()

	s.manager.Shutdown()
	return nil
}

// Apocalypse terminates the hosting process immediately, skipping any
// drain or close-connection bookkeeping. It never returns.
func (s *IOSystem) Apocalypse() {
	s.log.Errorw("weaveio: apocalypse", "system", s.name)
	os.Exit(1)
}
