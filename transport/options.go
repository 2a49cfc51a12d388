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

package transport

import "github.com/weaveio/weaveio/internal/poller"

// SetNumPollers sets the number of pollers in the poller package's
// default manager. Workers each run their own single-loop PollMgr and
// never touch this one; it only matters for code that binds a Conn
// outside of a Worker. n can't be smaller than the current count.
func SetNumPollers(n int) error {
	return poller.SetNumPollers(n)
}

// NumPollers returns the current number of pollers in the default PollMgr.
func NumPollers() int {
	return poller.NumPollers()
}

// EnablePollerGoschedAfterEvent makes the poller call runtime.Gosched()
// after processing each event. Only the kqueue poller reads this flag;
// the epoll poller ignores it. Only safe to call from func init.
func EnablePollerGoschedAfterEvent() {
	poller.GoschedAfterEvent = true
}
