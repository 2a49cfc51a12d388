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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionVolumeState(t *testing.T) {
	cases := []struct {
		name  string
		state VolumeState
		open  int
		low   int
		high  int
		want  VolumeState
	}{
		{"normal below high stays normal", Normal, 79, 50, 80, Normal},
		{"normal at high enters high water", Normal, 80, 50, 80, HighWater},
		{"normal above high enters high water", Normal, 95, 50, 80, HighWater},
		{"high water above low stays high water", HighWater, 60, 50, 80, HighWater},
		{"high water at low returns to normal", HighWater, 50, 50, 80, Normal},
		{"high water below low returns to normal", HighWater, 10, 50, 80, Normal},
		{"normal at zero high watermark enters high water", Normal, 0, 0, 0, HighWater},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := TransitionVolumeState(c.state, c.open, c.low, c.high)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestTransitionVolumeStateIsIdempotentAtSteadyState(t *testing.T) {
	state := Normal
	for i := 0; i < 80; i++ {
		state = TransitionVolumeState(state, i, 50, 80)
	}
	assert.Equal(t, Normal, state)

	state = TransitionVolumeState(state, 80, 50, 80)
	assert.Equal(t, HighWater, state)
	for i := 0; i < 5; i++ {
		state = TransitionVolumeState(state, 80, 50, 80)
	}
	assert.Equal(t, HighWater, state)
}

func TestVolumeStateString(t *testing.T) {
	assert.Equal(t, "Normal", Normal.String())
	assert.Equal(t, "HighWater", HighWater.String())
}
