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

package server

import (
	"time"

	"github.com/pkg/errors"
)

// Settings configures one Server's admission and idle-timeout policy.
// lowWatermark and highWatermark are derived from the percentages
// against MaxConnections the first time Validate succeeds.
type Settings struct {
	Port                    int
	MaxConnections          int
	MaxIdleTime             time.Duration // 0 means infinite.
	LowWatermarkPercentage  float64
	HighWatermarkPercentage float64
	HighWaterMaxIdleTime    time.Duration
	TCPBacklogSize          int // 0 lets the OS default apply.
	ReusePort               bool

	lowWatermark  int
	highWatermark int
}

// FatalConfig is raised synchronously from Validate when Settings
// violate an invariant the Server cannot safely start with.
type FatalConfig struct {
	Reason string
}

func (e *FatalConfig) Error() string { return "server: fatal config: " + e.Reason }

// Validate checks the invariants spec'd for ServerSettings and computes
// the derived watermark thresholds. It must be called once before a
// Server using these Settings is started.
func (s *Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return &FatalConfig{Reason: "port out of range"}
	}
	if s.MaxConnections < 0 {
		return &FatalConfig{Reason: "maxConnections must be >= 0"}
	}
	if s.LowWatermarkPercentage < 0 || s.LowWatermarkPercentage > 1 {
		return &FatalConfig{Reason: "lowWatermarkPercentage must be in [0,1]"}
	}
	if s.HighWatermarkPercentage < s.LowWatermarkPercentage || s.HighWatermarkPercentage > 1 {
		return &FatalConfig{Reason: "highWatermarkPercentage must be in [lowWatermarkPercentage,1]"}
	}
	if s.HighWaterMaxIdleTime <= 0 {
		return &FatalConfig{Reason: "highWaterMaxIdleTime must be finite and positive"}
	}
	s.lowWatermark = int(s.LowWatermarkPercentage * float64(s.MaxConnections))
	s.highWatermark = int(s.HighWatermarkPercentage * float64(s.MaxConnections))
	return nil
}

// DefaultSettings returns Settings with the percentages and idle times
// spec'd as reasonable defaults; Port and MaxConnections are always
// caller-supplied.
func DefaultSettings(port, maxConnections int) Settings {
	return Settings{
		Port:                    port,
		MaxConnections:          maxConnections,
		MaxIdleTime:             0,
		LowWatermarkPercentage:  0.5,
		HighWatermarkPercentage: 0.8,
		HighWaterMaxIdleTime:    30 * time.Second,
	}
}

// wrapBindErr is a thin helper kept separate so Start's retry loop
// reads as a sequence of named steps rather than inline error strings.
func wrapBindErr(err error) error {
	return errors.Wrap(err, "server: bind")
}
