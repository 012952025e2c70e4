// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package metrics holds the Prometheus collectors exported by a column store
// node, and a local per-codec tally of the chunks it has frozen.
//
// All methods are safe for concurrent use and are no-ops on a nil *Metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "colvec"

// Rollup passes.
const (
	PassStats     = "stats"
	PassHistogram = "histogram"
)

// CAS operations that may be retried after losing a race.
const (
	OpLayout = "layout"
	OpRollup = "rollup"
	OpGroup  = "group"
)

// Metrics is the set of collectors of one node.
type Metrics struct {
	chunks          *prometheus.CounterVec
	chunkBytes      *prometheus.CounterVec
	escalations     prometheus.Counter
	rollups         *prometheus.CounterVec
	rollupFailures  prometheus.Counter
	coalesced       prometheus.Counter
	rollupLatency   *prometheus.HistogramVec
	layouts         *prometheus.CounterVec
	layoutRefreshes prometheus.Counter
	casRetries      *prometheus.CounterVec

	mu     sync.Mutex
	codecs CodecTally
}

// New returns a Metrics whose collectors are registered with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_frozen_total",
			Help:      "Chunks frozen, by selected codec.",
		}, []string{"codec"}),
		chunkBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Encoded bytes of frozen chunks, by selected codec.",
		}, []string{"codec"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_escalations_total",
			Help:      "Writes that could not be applied in place and rebuilt a chunk.",
		}),
		rollups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_computations_total",
			Help:      "Rollup computations run on this node, by pass.",
		}, []string{"pass"}),
		rollupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_failures_total",
			Help:      "Rollup computations that failed.",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_coalesced_total",
			Help:      "Rollup requests that joined a computation already in flight.",
		}),
		rollupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollup_duration_seconds",
			Help:      "Duration of rollup computations, by pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"pass"}),
		layouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_registrations_total",
			Help:      "Layout registrations, by whether an existing layout was reused.",
		}, []string{"result"}),
		layoutRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_refreshes_total",
			Help:      "Refreshes of the local layout table from the authoritative copy.",
		}),
		casRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Compare-and-swap attempts lost to a concurrent writer, by operation.",
		}, []string{"op"}),
		codecs: CodecTally{},
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.chunks, m.chunkBytes, m.escalations, m.rollups, m.rollupFailures,
		m.coalesced, m.rollupLatency, m.layouts, m.layoutRefreshes, m.casRetries,
	}
}

// ChunkFrozen records a chunk frozen with the given codec.
func (m *Metrics) ChunkFrozen(codec string, size int) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(codec).Inc()
	m.chunkBytes.WithLabelValues(codec).Add(float64(size))
	m.mu.Lock()
	m.codecs.Inc(codec, uint64(size))
	m.mu.Unlock()
}

// Codecs returns a copy of the per-codec tally of frozen chunks.
func (m *Metrics) Codecs() CodecTally {
	out := CodecTally{}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.codecs {
		out[k] = v
	}
	return out
}

// Escalated records a chunk rebuilt by a write.
func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RollupComputed records a completed rollup pass.
func (m *Metrics) RollupComputed(pass string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.rollups.WithLabelValues(pass).Inc()
	m.rollupLatency.WithLabelValues(pass).Observe(d.Seconds())
	if err != nil {
		m.rollupFailures.Inc()
	}
}

// RollupCoalesced records a request that joined an in-flight computation.
func (m *Metrics) RollupCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// LayoutRegistered records a layout registration.
func (m *Metrics) LayoutRegistered(reused bool) {
	if m == nil {
		return
	}
	result := "appended"
	if reused {
		result = "reused"
	}
	m.layouts.WithLabelValues(result).Inc()
}

// LayoutRefreshed records a refresh of the local layout table.
func (m *Metrics) LayoutRefreshed() {
	if m == nil {
		return
	}
	m.layoutRefreshes.Inc()
}

// CASRetry records a lost compare-and-swap race.
func (m *Metrics) CASRetry(op string) {
	if m == nil {
		return
	}
	m.casRetries.WithLabelValues(op).Inc()
}
