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

// VolumeState is a Server's coarse load indicator, used to pick between
// maxIdleTime and highWaterMaxIdleTime.
type VolumeState int

const (
	// Normal means openConnections has not reached the high watermark
	// since the last time it fell to or below the low watermark.
	Normal VolumeState = iota
	// HighWater means openConnections reached the high watermark and
	// has not yet fallen back to or below the low watermark.
	HighWater
)

// String renders the state the way log lines and tests reference it.
func (v VolumeState) String() string {
	if v == HighWater {
		return "HighWater"
	}
	return "Normal"
}

// TransitionVolumeState is the pure watermark transition function: given
// the current state and the current open-connection count against the
// low and high watermarks, it returns the next state. It holds no
// reference to a Server so it is testable without a listening socket.
//
// The boundaries are asymmetric on purpose (>= high, <= low): between
// the two marks the state is sticky, which is what gives the policy its
// hysteresis and keeps it from oscillating on every connect/close pair
// near a single threshold.
func TransitionVolumeState(state VolumeState, open, low, high int) VolumeState {
	switch state {
	case Normal:
		if open >= high {
			return HighWater
		}
		return Normal
	case HighWater:
		if open <= low {
			return Normal
		}
		return HighWater
	default:
		return state
	}
}
