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

// Package worker implements the single-threaded event loop that owns a
// share of an IOSystem's connections: one poller, one mailbox, one
// goroutine draining it. Every other goroutine that wants to touch a
// Worker's state — the poller's own Wait() goroutine included — does so
// by sending a message, never by calling a method directly.
package worker

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/weaveio/weaveio/codec"
	"github.com/weaveio/weaveio/handler"
	"github.com/weaveio/weaveio/internal/iovec"
	"github.com/weaveio/weaveio/internal/poller"
	"github.com/weaveio/weaveio/internal/safejob"
	"github.com/weaveio/weaveio/metrics"
	"github.com/weaveio/weaveio/task"
	"github.com/weaveio/weaveio/transport"
)

// Settings configures a Worker's idle-tick cadence and mailbox size.
// IdleTickInterval is the period of the ticker that drives the idle
// scan; MailboxSize is the mailbox channel's buffer. A Worker has no
// select timeout: its loop blocks until a message or a tick arrives.
type Settings struct {
	IdleTickInterval time.Duration
	MailboxSize      int
}

// DefaultSettings returns the Settings an IOSystem uses when its config
// leaves a Worker's tuning unspecified.
func DefaultSettings() Settings {
	return Settings{
		IdleTickInterval: 100 * time.Millisecond,
		MailboxSize:      1024,
	}
}

// IdlePolicy reports the current idle deadline for a connection's
// Server, so the Worker can close connections that have been idle past
// it without needing to know anything about watermarks itself. The
// server package implements this.
type IdlePolicy interface {
	MaxIdleTime() time.Duration
}

// FailureReporter is notified when a Worker's loop goroutine has
// terminated unexpectedly; the wmanager package implements this to
// drive its restart policy.
type FailureReporter interface {
	WorkerFailed(id int, err error)
}

// CloseListener is notified every time a connection belonging to its
// Server closes, so the server package can release the admission slot
// and re-evaluate its watermark state without the worker package
// needing to know anything about admission control itself.
type CloseListener interface {
	ConnectionClosed(serverName string, cause handler.ConnectionCause)
}

// Worker owns one poller, one set of connections, and the Delegators
// that mint handlers for connections accepted on its share of each
// attached Server.
type Worker struct {
	id       int
	log      *zap.SugaredLogger
	sink     metrics.Sink
	settings Settings
	reporter FailureReporter

	pollMgr *poller.PollMgr
	mailbox chan message

	conns         map[int]*connEntry
	tasks         map[int]*taskEntry
	delegators    map[string]handler.Delegator
	idlePolicy    map[string]IdlePolicy
	closeListener map[string]CloseListener

	stopped  chan struct{}
	closeJob safejob.OnceJob
}

type taskEntry struct {
	task task.Task
}

type connEntry struct {
	conn       *transport.Conn
	serverName string
	codec      codec.Codec
	handler    handler.ConnectionHandler
	lastActive time.Time
}

// New creates a Worker with its own single-loop PollMgr. The Worker is
// inert until Run is called.
func New(id int, log *zap.SugaredLogger, sink metrics.Sink, settings Settings, reporter FailureReporter) (*Worker, error) {
	mgr, err := poller.NewPollMgr(poller.RoundRobin, 1)
	if err != nil {
		return nil, errors.Wrap(err, "worker: new poll manager")
	}
	return &Worker{
		id:            id,
		log:           log,
		sink:          sink,
		settings:      settings,
		reporter:      reporter,
		pollMgr:       mgr,
		mailbox:       make(chan message, settings.MailboxSize),
		conns:         make(map[int]*connEntry),
		tasks:         make(map[int]*taskEntry),
		delegators:    make(map[string]handler.Delegator),
		idlePolicy:    make(map[string]IdlePolicy),
		closeListener: make(map[string]CloseListener),
		stopped:       make(chan struct{}),
	}, nil
}

// ID returns the Worker's index within its WorkerManager's pool.
func (w *Worker) ID() int { return w.id }

// Attach registers a Delegator for serverName; every connection the
// Worker later accepts for that Server uses it to mint a Codec and
// ConnectionHandler. listener, if non-nil, is notified every time one
// of those connections closes.
func (w *Worker) Attach(serverName string, d handler.Delegator, idle IdlePolicy, listener CloseListener) {
	w.delegators[serverName] = d
	w.idlePolicy[serverName] = idle
	if listener != nil {
		w.closeListener[serverName] = listener
	}
}

// Run drains the mailbox until Shutdown's message is processed or the
// mailbox channel is closed. It must be called from its own goroutine;
// it is the only goroutine allowed to touch conns, delegators, or any
// connEntry's buffers and handler.
func (w *Worker) Run() {
	defer close(w.stopped)
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("worker: panic: %v", r)
			w.log.Errorw("worker loop panicked", "worker", w.id, "error", err)
			for fd := range w.conns {
				w.closeConn(fd, handler.WorkerFailure)
			}
			if w.reporter != nil {
				w.reporter.WorkerFailed(w.id, err)
			}
		}
	}()

	ticker := time.NewTicker(w.settings.IdleTickInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-w.mailbox:
			if !ok {
				return
			}
			if w.handle(msg) {
				return
			}
		case <-ticker.C:
			w.checkIdle()
		}
	}
}

// handle processes one message; it returns true when the Worker should
// stop its loop.
func (w *Worker) handle(msg message) bool {
	switch m := msg.(type) {
	case newConnMsg:
		w.onNewConn(m)
	case readReadyMsg:
		w.onReadReady(m.fd)
	case writeReadyMsg:
		w.onWriteReady(m.fd)
	case hupMsg:
		w.onHup(m.fd)
	case broadcastMsg:
		w.onBroadcast(m)
	case bindTaskMsg:
		w.onBindTask(m)
	case taskSendMsg:
		w.onTaskMessage(m)
	case shutdownMsg:
		w.onShutdown(m)
		return true
	}
	return false
}

// AcceptedConn describes a connection handed to AssignConn by whatever
// accepted it (a Server's listening loop, or IOSystem.Connect on the
// client side).
type AcceptedConn struct {
	ServerName string
	Conn       *transport.Conn
}

// AssignConn enqueues a newly accepted or dialed connection for this
// Worker to take ownership of. Safe to call from any goroutine.
func (w *Worker) AssignConn(ac AcceptedConn) {
	w.mailbox <- newConnMsg{ac: ac}
}

// Broadcast enqueues m to be delivered to every connection this Worker
// currently owns for serverName, via that Server's Delegator.
func (w *Worker) Broadcast(serverName string, m codec.Message) {
	w.mailbox <- broadcastMsg{serverName: serverName, m: m}
}

// Shutdown enqueues a shutdown message and blocks until the Worker's
// loop has processed it and exited. Any connection still open when the
// message is processed is force-closed with cause ServerShutdown: a
// caller that wants connections to drain first (handlers finish
// writing, then get a graceful termination) must wait for that to
// happen on its own before calling Shutdown, since the Worker keeps
// running its ordinary read/write/idle processing right up until then.
//
// Shutdown is idempotent: closeJob ensures only the first caller
// enqueues the shutdown message; every other caller (and every caller
// after the first) just waits for the loop to have already exited,
// rather than enqueueing a second shutdownMsg the loop would never
// drain and blocking that caller on <-done forever.
func (w *Worker) Shutdown() {
	if w.closeJob.Begin() {
		done := make(chan struct{})
		w.mailbox <- shutdownMsg{done: done}
		<-done
	}
	<-w.stopped
}

// BindTask enqueues t to be bound to this Worker as a Task identified
// by id and returns the Proxy that delivers further messages to it.
// Safe to call from any goroutine; t.OnStart runs later, on the
// Worker's own loop goroutine, once the binding message is drained.
func (w *Worker) BindTask(id int, t task.Task) task.Proxy {
	w.mailbox <- bindTaskMsg{id: id, t: t}
	return &taskProxy{w: w, id: id}
}

// TaskProxy returns the Proxy for a Task already bound under id. Safe
// to call from any goroutine.
func (w *Worker) TaskProxy(id int) task.Proxy {
	return &taskProxy{w: w, id: id}
}

func (w *Worker) onNewConn(m newConnMsg) {
	serverName, conn := m.ac.ServerName, m.ac.Conn
	d, ok := w.delegators[serverName]
	if !ok {
		w.log.Errorw("worker: no delegator for server", "server", serverName)
		conn.Close()
		w.notifyClosed(serverName, handler.Refused)
		return
	}

	fd := conn.FD()
	h, accepted := d.AcceptConnection(fd)
	if !accepted {
		conn.Close()
		w.notifyClosed(serverName, handler.Refused)
		return
	}

	c := d.NewCodec()
	entry := &connEntry{conn: conn, serverName: serverName, codec: c, handler: h, lastActive: time.Now()}

	if err := conn.Bind(w.pollMgr, w.makeOnRead(fd), w.makeOnWrite(fd), w.makeOnHup(fd)); err != nil {
		w.log.Errorw("worker: bind conn failed", "error", err)
		conn.Close()
		w.notifyClosed(serverName, handler.IOError)
		return
	}
	w.conns[fd] = entry

	wc := &wrappedConn{w: w, entry: entry}
	if err := h.OnOpen(wc); err != nil {
		w.closeConn(fd, handler.HandlerException)
	}
}

// makeOnRead/makeOnWrite/makeOnHup are called once per connection, from
// the Worker's own loop goroutine (inside onNewConn), but the closures
// they return run on the poller's Wait() goroutine. They must never
// touch connEntry state directly: enqueueing is the only safe action.
func (w *Worker) makeOnRead(fd int) func(interface{}, *iovec.IOData) error {
	return func(interface{}, *iovec.IOData) error {
		select {
		case w.mailbox <- readReadyMsg{fd: fd}:
		default:
			w.sink.Counter("worker.mailbox.dropped").Inc()
		}
		return nil
	}
}

func (w *Worker) makeOnWrite(fd int) func(interface{}) error {
	return func(interface{}) error {
		select {
		case w.mailbox <- writeReadyMsg{fd: fd}:
		default:
		}
		return nil
	}
}

func (w *Worker) makeOnHup(fd int) func(interface{}) {
	return func(interface{}) {
		select {
		case w.mailbox <- hupMsg{fd: fd}:
		default:
		}
	}
}

func (w *Worker) onReadReady(fd int) {
	entry, ok := w.conns[fd]
	if !ok {
		return
	}
	entry.lastActive = time.Now()
	ioData := iovec.NewIOData()
	if err := entry.conn.Fill(&ioData); err != nil {
		w.closeConn(fd, handler.IOError)
		return
	}
	w.drainMessages(fd, entry)
}

func (w *Worker) drainMessages(fd int, entry *connEntry) {
	wc := &wrappedConn{w: w, entry: entry}
	for {
		m, err := entry.codec.Decode(entry.conn)
		if err != nil {
			if err == codec.ErrIncomplete {
				return
			}
			if codec.IsProtocolViolation(err) {
				w.closeConn(fd, handler.ProtocolViolation)
				return
			}
			w.closeConn(fd, handler.IOError)
			return
		}
		if err := entry.handler.OnMessage(wc, m); err != nil {
			if codec.IsProtocolViolation(err) {
				w.closeConn(fd, handler.ProtocolViolation)
			} else {
				w.closeConn(fd, handler.HandlerException)
			}
			return
		}
	}
}

func (w *Worker) onWriteReady(fd int) {
	entry, ok := w.conns[fd]
	if !ok {
		return
	}
	if err := entry.conn.OnWriteReady(); err != nil {
		w.closeConn(fd, handler.IOError)
	}
}

func (w *Worker) onHup(fd int) {
	if _, ok := w.conns[fd]; !ok {
		return
	}
	w.closeConn(fd, handler.RemoteClose)
}

func (w *Worker) onBroadcast(m broadcastMsg) {
	d, ok := w.delegators[m.serverName]
	if !ok {
		return
	}
	for fd, entry := range w.conns {
		if entry.serverName != m.serverName {
			continue
		}
		wc := &wrappedConn{w: w, entry: entry}
		if err := d.OnBroadcast(wc, m.m); err != nil {
			w.closeConn(fd, handler.HandlerException)
		}
	}
}

func (w *Worker) checkIdle() {
	now := time.Now()
	for fd, entry := range w.conns {
		policy, ok := w.idlePolicy[entry.serverName]
		if !ok || policy == nil {
			continue
		}
		maxIdle := policy.MaxIdleTime()
		if maxIdle <= 0 {
			continue
		}
		if now.Sub(entry.lastActive) >= maxIdle {
			w.closeConn(fd, handler.IdleTimeout)
		}
	}
}

func (w *Worker) closeConn(fd int, cause handler.ConnectionCause) {
	entry, ok := w.conns[fd]
	if !ok {
		return
	}
	delete(w.conns, fd)
	entry.conn.Close()
	wc := &wrappedConn{w: w, entry: entry}
	entry.handler.OnClose(wc, cause)
	w.notifyClosed(entry.serverName, cause)
}

// notifyClosed tells serverName's CloseListener, if any, that one of
// its admitted connections is gone, whatever stage it died at: a live
// connEntry closing normally, or admission into a connEntry failing
// outright (no delegator, a refusal, a failed Bind). Every one of
// those paths already consumed an admission slot via tryAdmit, so
// every one of them must release it here or the Server's
// openConnections count leaks upward forever.
func (w *Worker) notifyClosed(serverName string, cause handler.ConnectionCause) {
	if listener, ok := w.closeListener[serverName]; ok {
		listener.ConnectionClosed(serverName, cause)
	}
}

func (w *Worker) onBindTask(m bindTaskMsg) {
	proxy := &taskProxy{w: w, id: m.id}
	if err := m.t.OnStart(proxy); err != nil {
		w.log.Errorw("worker: task OnStart failed", "worker", w.id, "task", m.id, "error", err)
		return
	}
	w.tasks[m.id] = &taskEntry{task: m.t}
}

func (w *Worker) onTaskMessage(m taskSendMsg) {
	entry, ok := w.tasks[m.id]
	if !ok {
		return
	}
	proxy := &taskProxy{w: w, id: m.id}
	if err := entry.task.OnMessage(proxy, m.m); err != nil {
		w.log.Errorw("worker: task OnMessage failed", "worker", w.id, "task", m.id, "error", err)
		delete(w.tasks, m.id)
	}
}

// taskProxy implements task.Proxy by enqueueing onto the owning
// Worker's own mailbox, the same way AssignConn and Broadcast deliver
// to a Worker from any goroutine.
type taskProxy struct {
	w  *Worker
	id int
}

func (p *taskProxy) Send(m interface{}) error {
	p.w.mailbox <- taskSendMsg{id: p.id, m: m}
	return nil
}

func (w *Worker) onShutdown(m shutdownMsg) {
	for fd := range w.conns {
		w.closeConn(fd, handler.ServerShutdown)
	}
	w.pollMgr.Close()
	close(m.done)
}
