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

// Package wmanager owns a fixed-size pool of worker.Worker instances,
// routes newly accepted connections across them round-robin, fans
// broadcasts out to every Worker, and restarts any Worker whose loop
// goroutine dies.
package wmanager

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/weaveio/weaveio/codec"
	"github.com/weaveio/weaveio/handler"
	"github.com/weaveio/weaveio/metrics"
	"github.com/weaveio/weaveio/task"
	"github.com/weaveio/weaveio/worker"
)

// Settings configures every Worker the Manager spawns.
type Settings struct {
	NumWorkers int
	Worker     worker.Settings
}

// DefaultSettings returns the Settings an IOSystem uses when its config
// leaves worker pool sizing unspecified.
func DefaultSettings(numWorkers int) Settings {
	return Settings{NumWorkers: numWorkers, Worker: worker.DefaultSettings()}
}

// DelegatorFactory mints one handler.Delegator per (Server, Worker)
// pair: the Manager calls it once for every Worker currently in the
// pool when Attach runs, and once more for a Worker's replacement if
// it is restarted after WorkerFailed.
type DelegatorFactory func() handler.Delegator

// attachment records one (serverName, DelegatorFactory, IdlePolicy,
// CloseListener) binding so a restarted Worker can be brought back up
// to date with its own fresh Delegator instance.
type attachment struct {
	serverName string
	factory    DelegatorFactory
	idle       worker.IdlePolicy
	listener   worker.CloseListener
}

// Manager is the worker.FailureReporter that owns a fixed-size pool of
// Workers, round-robins AssignConn calls across it, and relaunches any
// Worker whose loop goroutine panics or otherwise returns unexpectedly.
type Manager struct {
	log      *zap.SugaredLogger
	sink     metrics.Sink
	settings Settings

	mu          sync.Mutex
	workers     []*worker.Worker
	attachments []attachment
	cursor      uint64
	taskCursor  uint64
	closed      bool
}

// New creates a Manager and starts its Worker pool. Every Worker is
// already running its own loop goroutine by the time New returns.
func New(log *zap.SugaredLogger, sink metrics.Sink, settings Settings) (*Manager, error) {
	m := &Manager{log: log, sink: sink, settings: settings}
	m.workers = make([]*worker.Worker, settings.NumWorkers)
	for i := range m.workers {
		w, err := m.spawn(i)
		if err != nil {
			return nil, err
		}
		m.workers[i] = w
		go w.Run()
	}
	return m, nil
}

func (m *Manager) spawn(id int) (*worker.Worker, error) {
	return worker.New(id, m.log, m.sink, m.settings.Worker, m)
}

// Attach mints a fresh Delegator from factory for every Worker
// currently in the pool and registers it, along with idle and
// listener, for serverName. The binding is remembered so a future
// restart mints another fresh Delegator for the replacement Worker.
// listener may be nil.
func (m *Manager) Attach(serverName string, factory DelegatorFactory, idle worker.IdlePolicy, listener worker.CloseListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments = append(m.attachments, attachment{serverName: serverName, factory: factory, idle: idle, listener: listener})
	for _, w := range m.workers {
		w.Attach(serverName, factory(), idle, listener)
	}
}

// AssignConn hands ac to the next Worker in round-robin order.
func (m *Manager) AssignConn(ac worker.AcceptedConn) {
	w := m.pick()
	if w == nil {
		return
	}
	w.AssignConn(ac)
}

// RunTask binds t to the next Worker in the same round-robin order
// AssignConn uses and returns the Proxy that delivers it further
// messages. Returns an error if the pool is empty.
func (m *Manager) RunTask(t task.Task) (task.Proxy, error) {
	w := m.pick()
	if w == nil {
		return nil, errors.New("wmanager: no workers available to run task")
	}
	id := int(atomic.AddUint64(&m.taskCursor, 1))
	return w.BindTask(id, t), nil
}

// Broadcast fans m out to every Worker's share of serverName's connections.
func (m *Manager) Broadcast(serverName string, msg codec.Message) {
	m.mu.Lock()
	workers := append([]*worker.Worker(nil), m.workers...)
	m.mu.Unlock()
	for _, w := range workers {
		w.Broadcast(serverName, msg)
	}
}

// pick returns the next Worker in round-robin order, the way the
// adapted poller package's own roundRobinLB.Pick selects a poller: an
// atomically incremented counter modulo pool size, with no lock held
// across the pick.
func (m *Manager) pick() *worker.Worker {
	m.mu.Lock()
	n := len(m.workers)
	m.mu.Unlock()
	if n == 0 {
		return nil
	}
	idx := int(atomic.AddUint64(&m.cursor, 1)) % n
	m.mu.Lock()
	w := m.workers[idx]
	m.mu.Unlock()
	return w
}

// WorkerFailed implements worker.FailureReporter. It replaces the dead
// Worker at the same pool index with a freshly started one, replays
// every recorded Attach call onto it, and logs the failure. Connections
// the dead Worker owned are not migrated: they were already closed by
// the time its loop goroutine returned.
func (m *Manager) WorkerFailed(id int, err error) {
	m.log.Errorw("wmanager: worker failed, restarting", "worker", id, "error", err)

	m.mu.Lock()
	if m.closed || id < 0 || id >= len(m.workers) {
		m.mu.Unlock()
		return
	}
	attachments := append([]attachment(nil), m.attachments...)
	m.mu.Unlock()

	w, spawnErr := m.spawn(id)
	if spawnErr != nil {
		m.log.Errorw("wmanager: failed to restart worker", "worker", id, "error", spawnErr)
		return
	}
	for _, a := range attachments {
		w.Attach(a.serverName, a.factory(), a.idle, a.listener)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.Shutdown()
		return
	}
	m.workers[id] = w
	m.mu.Unlock()

	go w.Run()
}

// Shutdown asks every Worker to force-close whatever connections it
// still owns and blocks until they have all stopped. Callers that want
// connections to drain first must wait for that themselves before
// calling Shutdown: every Worker keeps running its ordinary event loop
// right up until its Shutdown message is processed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	workers := append([]*worker.Worker(nil), m.workers...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			w.Shutdown()
		}()
	}
	wg.Wait()
}

// Size returns the number of Workers in the pool.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
