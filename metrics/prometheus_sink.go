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
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// promNameDisallowed matches every byte a prometheus metric name
// cannot contain. The core's own names are dotted ("<server>.connects",
// "worker.mailbox.dropped"), which MustRegister panics on, so Counter
// and Rate sanitize before ever touching a prometheus.Opts.Name.
var promNameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

func sanitizePromName(name string) string {
	name = promNameDisallowed.ReplaceAllString(name, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

// PrometheusSink adapts the Sink interface onto a prometheus.Registerer,
// so a host process exporting /metrics gets weaveio's counters for free
// instead of having to poll the default in-process Sink.
type PrometheusSink struct {
	namespace string
	registry  prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*promCounter
	rates    map[string]*promRate
}

// NewPrometheusSink builds a Sink backed by registry, namespacing every
// metric name under namespace (e.g. "weaveio").
func NewPrometheusSink(namespace string, registry prometheus.Registerer) *PrometheusSink {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		namespace: namespace,
		registry:  registry,
		counters:  make(map[string]*promCounter),
		rates:     make(map[string]*promRate),
	}
}

type promCounter struct {
	gauge prometheus.Gauge
}

func (c *promCounter) Inc()            { c.gauge.Add(1) }
func (c *promCounter) Dec()            { c.gauge.Add(-1) }
func (c *promCounter) Add(delta int64) { c.gauge.Add(float64(delta)) }
func (c *promCounter) Value() int64 {
	var m dto.Metric
	if err := c.gauge.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// Counter registers (or returns the already-registered) gauge for name.
// A Gauge, not a prometheus.Counter, is used because weaveio's Counter
// contract allows Dec, which a monotonic prometheus.Counter forbids.
func (s *PrometheusSink) Counter(name string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: s.namespace,
		Name:      sanitizePromName(name),
	})
	s.registry.MustRegister(g)
	c := &promCounter{gauge: g}
	s.counters[name] = c
	return c
}

type promRate struct {
	counter prometheus.Counter
	sink    *slidingRate
}

func (r *promRate) Hit(tags map[string]string) {
	r.counter.Inc()
	r.sink.Hit(tags)
}

func (r *promRate) PerSecond(window time.Duration) float64 {
	return r.sink.PerSecond(window)
}

// Rate registers a monotonic prometheus.Counter for total hits plus an
// in-process sliding window to answer PerSecond without scraping.
func (s *PrometheusSink) Rate(name string, windows ...time.Duration) Rate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rates[name]; ok {
		return r
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: s.namespace,
		Name:      sanitizePromName(name) + "_total",
	})
	s.registry.MustRegister(c)
	capacity := 60
	for _, w := range windows {
		if secs := int(w / time.Second); secs > capacity {
			capacity = secs
		}
	}
	r := &promRate{counter: c, sink: newSlidingRate(capacity)}
	s.rates[name] = r
	return r
}
