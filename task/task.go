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

// Package task defines the Task facility: work bound to a single
// Worker's event loop rather than to an arbitrary goroutine, so a Task
// is driven with the same single-threaded, lock-free guarantees as any
// ConnectionHandler.
package task

// Task is work run(Task) binds to a Worker. Once bound, OnStart and
// every subsequent OnMessage call happen only on that Worker's own
// loop goroutine, interleaved with the rest of its work the same way a
// ConnectionHandler's callbacks are.
type Task interface {
	// OnStart is called once, right after run(Task) binds the Task to a
	// Worker, on that Worker's own loop goroutine. proxy is the same
	// handle run(Task) already returned to its caller, so a Task can
	// start forwarding messages to itself immediately.
	OnStart(proxy Proxy) error
	// OnMessage is called once per message sent to the Task's Proxy, in
	// the order Send was called. Returning an error unbinds the Task:
	// no further OnMessage calls follow.
	OnMessage(proxy Proxy, m interface{}) error
}

// Proxy is the handle run(Task) returns: the only way anything outside
// the owning Worker delivers further messages to a bound Task. Safe to
// call from any goroutine.
type Proxy interface {
	Send(m interface{}) error
}
