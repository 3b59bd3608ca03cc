// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides in-memory run/cache metrics for orco, adapted
// from jontk-slurm-client's pkg/metrics (atomic counters + a min/max/total
// duration aggregator) per SPEC_FULL.md's domain stack section. Where the
// teacher tracked HTTP request/response/cache counters, this tracks job
// runs per builder and plan cache hit/miss: a cache hit is a planner
// reusing an existing Finished job for a key; a miss is one that had to be
// announced and computed (spec §4.D).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the interface for run/cache metrics collection.
type Collector interface {
	// RecordJobStart records a job transitioning to Running.
	RecordJobStart(builder string)

	// RecordJobFinished records a job transitioning to Finished.
	RecordJobFinished(builder string, duration time.Duration)

	// RecordJobError records a job transitioning to Error.
	RecordJobError(builder string, err error)

	// RecordCacheHit records the planner reusing an existing job for a key.
	RecordCacheHit(key string)

	// RecordCacheMiss records the planner announcing a new job for a key.
	RecordCacheMiss(key string)

	// GetStats returns current metrics statistics.
	GetStats() *Stats

	// Reset resets all metrics.
	Reset()
}

// Stats contains aggregated metrics statistics.
type Stats struct {
	TotalStarted  int64
	ActiveJobs    int64
	TotalFinished int64
	TotalErrors   int64

	FinishedByBuilder map[string]int64
	ErrorsByBuilder   map[string]int64
	DurationByBuilder map[string]DurationStats

	CacheHits   int64
	CacheMisses int64
	CacheRatio  float64

	StartTime time.Time
	Uptime    time.Duration
}

// DurationStats contains statistics for duration measurements.
type DurationStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// InMemoryCollector is an in-memory implementation of Collector.
type InMemoryCollector struct {
	mu sync.RWMutex

	totalStarted  int64
	activeJobs    int64
	totalFinished int64
	totalErrors   int64

	finishedByBuilder map[string]*int64
	errorsByBuilder   map[string]*int64
	durationByBuilder map[string]*durationAggregator

	cacheHits   int64
	cacheMisses int64

	startTime time.Time
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		finishedByBuilder: make(map[string]*int64),
		errorsByBuilder:   make(map[string]*int64),
		durationByBuilder: make(map[string]*durationAggregator),
		startTime:         time.Now(),
	}
}

func (c *InMemoryCollector) RecordJobStart(builder string) {
	atomic.AddInt64(&c.totalStarted, 1)
	atomic.AddInt64(&c.activeJobs, 1)
}

func (c *InMemoryCollector) RecordJobFinished(builder string, duration time.Duration) {
	atomic.AddInt64(&c.totalFinished, 1)
	atomic.AddInt64(&c.activeJobs, -1)
	incrementMapCounter(&c.mu, c.finishedByBuilder, builder)

	c.mu.Lock()
	agg, exists := c.durationByBuilder[builder]
	if !exists {
		agg = newDurationAggregator()
		c.durationByBuilder[builder] = agg
	}
	c.mu.Unlock()
	agg.add(duration)
}

func (c *InMemoryCollector) RecordJobError(builder string, err error) {
	atomic.AddInt64(&c.totalErrors, 1)
	atomic.AddInt64(&c.activeJobs, -1)
	incrementMapCounter(&c.mu, c.errorsByBuilder, builder)
}

func (c *InMemoryCollector) RecordCacheHit(key string) {
	atomic.AddInt64(&c.cacheHits, 1)
}

func (c *InMemoryCollector) RecordCacheMiss(key string) {
	atomic.AddInt64(&c.cacheMisses, 1)
}

func (c *InMemoryCollector) GetStats() *Stats {
	stats := &Stats{
		TotalStarted:      atomic.LoadInt64(&c.totalStarted),
		ActiveJobs:        atomic.LoadInt64(&c.activeJobs),
		TotalFinished:     atomic.LoadInt64(&c.totalFinished),
		TotalErrors:       atomic.LoadInt64(&c.totalErrors),
		CacheHits:         atomic.LoadInt64(&c.cacheHits),
		CacheMisses:       atomic.LoadInt64(&c.cacheMisses),
		FinishedByBuilder: c.copyMapCounters(c.finishedByBuilder),
		ErrorsByBuilder:   c.copyMapCounters(c.errorsByBuilder),
		DurationByBuilder: c.copyDurationStats(c.durationByBuilder),
		StartTime:         c.startTime,
		Uptime:            time.Since(c.startTime),
	}

	total := stats.CacheHits + stats.CacheMisses
	if total > 0 {
		stats.CacheRatio = float64(stats.CacheHits) / float64(total)
	}
	return stats
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.totalStarted, 0)
	atomic.StoreInt64(&c.activeJobs, 0)
	atomic.StoreInt64(&c.totalFinished, 0)
	atomic.StoreInt64(&c.totalErrors, 0)
	atomic.StoreInt64(&c.cacheHits, 0)
	atomic.StoreInt64(&c.cacheMisses, 0)

	c.finishedByBuilder = make(map[string]*int64)
	c.errorsByBuilder = make(map[string]*int64)
	c.durationByBuilder = make(map[string]*durationAggregator)

	c.startTime = time.Now()
}

func incrementMapCounter(mu *sync.RWMutex, m map[string]*int64, key string) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var v int64
		counter = &v
		m[key] = counter
	}
	mu.Unlock()
	atomic.AddInt64(counter, 1)
}

func (c *InMemoryCollector) copyMapCounters(m map[string]*int64) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

func (c *InMemoryCollector) copyDurationStats(m map[string]*durationAggregator) map[string]DurationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]DurationStats, len(m))
	for k, v := range m {
		result[k] = v.stats()
	}
	return result
}

type durationAggregator struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func newDurationAggregator() *durationAggregator {
	return &durationAggregator{min: time.Duration(1<<63 - 1)}
}

func (d *durationAggregator) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.total += duration
	if duration < d.min {
		d.min = duration
	}
	if duration > d.max {
		d.max = duration
	}
}

func (d *durationAggregator) stats() DurationStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DurationStats{Count: d.count, Total: d.total, Min: d.min, Max: d.max}
	if d.count > 0 {
		stats.Average = time.Duration(int64(d.total) / d.count)
	} else {
		stats.Min = 0
	}
	return stats
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordJobStart(builder string)                          {}
func (NoOpCollector) RecordJobFinished(builder string, duration time.Duration) {}
func (NoOpCollector) RecordJobError(builder string, err error)               {}
func (NoOpCollector) RecordCacheHit(key string)                              {}
func (NoOpCollector) RecordCacheMiss(key string)                             {}
func (NoOpCollector) GetStats() *Stats                                      { return &Stats{} }
func (NoOpCollector) Reset()                                                {}

var defaultCollector Collector = &NoOpCollector{}

// SetDefaultCollector sets the default metrics collector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = &NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the default metrics collector.
func GetDefaultCollector() Collector {
	return defaultCollector
}
