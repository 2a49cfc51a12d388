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

package metrics

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Counter is a monotonic-or-not named count an IOSystem caller can read
// back, the way the package-level Add/Get array works internally for
// the socket-level TCP/epoll counters in metric.go.
type Counter interface {
	Inc()
	Dec()
	Add(delta int64)
	Value() int64
}

// Rate tracks hits over a sliding window so a caller can ask "how many
// per second over the last N" without the host process wiring its own
// bucketing.
type Rate interface {
	Hit(tags map[string]string)
	PerSecond(window time.Duration) float64
}

// Sink is the observability surface an IOSystem is configured with. The
// framework itself only ever calls Counter and Rate; what backs them
// (an in-process atomic ledger, a Prometheus registry, or something a
// host process supplies) is the Sink implementation's choice.
type Sink interface {
	Counter(name string) Counter
	Rate(name string, windows ...time.Duration) Rate
}

// atomicCounter is a Counter backed by a single atomic int64, the same
// lock-free style as the package's fixed TCP/epoll counter array.
type atomicCounter struct {
	v atomic.Int64
}

func (c *atomicCounter) Inc()            { c.v.Inc() }
func (c *atomicCounter) Dec()            { c.v.Dec() }
func (c *atomicCounter) Add(delta int64) { c.v.Add(delta) }
func (c *atomicCounter) Value() int64    { return c.v.Load() }

// slidingRate buckets hits per second over a ring of one-second slots,
// large enough to answer PerSecond for any window it's asked about up
// to its capacity.
type slidingRate struct {
	mu      sync.Mutex
	buckets []int64
	epoch   []int64
	now     func() time.Time
}

func newSlidingRate(capacitySeconds int) *slidingRate {
	return &slidingRate{
		buckets: make([]int64, capacitySeconds),
		epoch:   make([]int64, capacitySeconds),
		now:     time.Now,
	}
}

func (r *slidingRate) Hit(_ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sec := r.now().Unix()
	idx := int(sec) % len(r.buckets)
	if r.epoch[idx] != sec {
		r.epoch[idx] = sec
		r.buckets[idx] = 0
	}
	r.buckets[idx]++
}

func (r *slidingRate) PerSecond(window time.Duration) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	secs := int(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	if secs > len(r.buckets) {
		secs = len(r.buckets)
	}
	now := r.now().Unix()
	var total int64
	for i := 0; i < secs; i++ {
		sec := now - int64(i)
		idx := int(sec) % len(r.buckets)
		if idx < 0 {
			idx += len(r.buckets)
		}
		if r.epoch[idx] == sec {
			total += r.buckets[idx]
		}
	}
	return float64(total) / float64(secs)
}

// defaultSink is the Sink an IOSystem uses when none is configured: a
// map of atomic counters and sliding-window rates, keyed by name,
// created lazily on first use.
type defaultSink struct {
	mu       sync.Mutex
	counters map[string]*atomicCounter
	rates    map[string]*slidingRate
}

// NewDefaultSink builds the in-process Sink implementation.
func NewDefaultSink() Sink {
	return &defaultSink{
		counters: make(map[string]*atomicCounter),
		rates:    make(map[string]*slidingRate),
	}
}

func (s *defaultSink) Counter(name string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = &atomicCounter{}
		s.counters[name] = c
	}
	return c
}

func (s *defaultSink) Rate(name string, windows ...time.Duration) Rate {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rates[name]
	if !ok {
		capacity := 60
		for _, w := range windows {
			if secs := int(w / time.Second); secs > capacity {
				capacity = secs
			}
		}
		r = newSlidingRate(capacity)
		s.rates[name] = r
	}
	return r
}
