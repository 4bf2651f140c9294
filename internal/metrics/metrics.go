// Copyright 2025 Ian Lewis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics implements prometheus metrics for archive reads.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wikidx"
	subsystem = "reader"
)

// Cache names used as label values.
const (
	CacheLast   = "last"
	CacheShared = "shared"
)

// Metrics records reader activity. A nil *Metrics records nothing.
type Metrics struct {
	decodes       prometheus.Counter
	decodeSeconds prometheus.Counter
	decodedBytes  *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   prometheus.Counter
	lookups       *prometheus.CounterVec
}

// New returns metrics registered with reg. Metrics that are already
// registered with reg are shared, so several readers can report to one
// registry. If reg is nil, the metrics are not registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_decodes_total",
			Help:      "The total number of decompressed blocks.",
		}),
		decodeSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_decode_seconds_total",
			Help:      "The total time spent decompressing blocks.",
		}),
		decodedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_bytes_total",
			Help:      "The total number of bytes read and produced by block decompression. Broken down by compressed and decompressed size.",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_cache_hits_total",
			Help:      "The total number of block reads served from a cache. Broken down by cache.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_cache_misses_total",
			Help:      "The total number of block reads that required decompression.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lookups_total",
			Help:      "The total number of document lookups. Broken down by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.decodes, err = register(reg, m.decodes); err != nil {
		return nil, err
	}
	if m.decodeSeconds, err = register(reg, m.decodeSeconds); err != nil {
		return nil, err
	}
	if m.decodedBytes, err = register(reg, m.decodedBytes); err != nil {
		return nil, err
	}
	if m.cacheHits, err = register(reg, m.cacheHits); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = register(reg, m.cacheMisses); err != nil {
		return nil, err
	}
	if m.lookups, err = register(reg, m.lookups); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c or returns the equal collector already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// BlockDecoded records a block decompression that started at start.
func (m *Metrics) BlockDecoded(compressed uint64, payload int, start time.Time) {
	if m == nil {
		return
	}
	m.decodes.Inc()
	m.decodeSeconds.Add(time.Since(start).Seconds())
	m.decodedBytes.WithLabelValues("compressed").Add(float64(compressed))
	m.decodedBytes.WithLabelValues("decompressed").Add(float64(payload))
}

// CacheHit records a block served from the named cache.
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

// CacheMiss records a block read that was not cached.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Lookup records a document lookup.
func (m *Metrics) Lookup(found bool) {
	if m == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	m.lookups.WithLabelValues(result).Inc()
}
