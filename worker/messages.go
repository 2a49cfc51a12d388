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
	"github.com/weaveio/weaveio/task"
)

// message is the closed set of values a Worker's mailbox ever carries.
// It is intentionally unexported: nothing outside this package
// constructs one directly, it only calls AssignConn/Broadcast/Shutdown/
// BindTask or a task Proxy's Send.
type message interface{}

type newConnMsg struct {
	ac AcceptedConn
}

type readReadyMsg struct {
	fd int
}

type writeReadyMsg struct {
	fd int
}

type hupMsg struct {
	fd int
}

type broadcastMsg struct {
	serverName string
	m          codec.Message
}

type shutdownMsg struct {
	done chan struct{}
}

type bindTaskMsg struct {
	id int
	t  task.Task
}

type taskSendMsg struct {
	id int
	m  interface{}
}
