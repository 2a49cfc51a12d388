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

import (
	"fmt"
	"net"
	"time"

	"github.com/weaveio/weaveio/internal/netutil"
)

// DialTCP connects to address and returns an unbound Conn; the caller
// (the weaveio facade's Connect) binds it to a Worker's PollMgr before
// use. Valid networks are "tcp", "tcp4" and "tcp6".
func DialTCP(network, address string, timeout time.Duration) (*Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("transport: unknown network %s", network)
	}
	c, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", network, address, err)
	}
	fd, err := netutil.GetFD(c)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("transport: dial get fd: %w", err)
	}
	conn := newConn(netFD{
		fd:      fd,
		fdtype:  fdTCP,
		sock:    c,
		laddr:   c.LocalAddr(),
		raddr:   c.RemoteAddr(),
		network: network,
	})
	return conn, nil
}
