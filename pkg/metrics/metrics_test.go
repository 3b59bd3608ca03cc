// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCollectorRecordsJobLifecycle(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordJobStart("builder-a")
	c.RecordJobFinished("builder-a", 50*time.Millisecond)

	stats := c.GetStats()
	assert.EqualValues(t, 1, stats.TotalStarted)
	assert.EqualValues(t, 0, stats.ActiveJobs)
	assert.EqualValues(t, 1, stats.TotalFinished)
	assert.EqualValues(t, 1, stats.FinishedByBuilder["builder-a"])
	assert.Equal(t, 50*time.Millisecond, stats.DurationByBuilder["builder-a"].Average)
}

func TestInMemoryCollectorRecordsJobError(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordJobStart("builder-b")
	c.RecordJobError("builder-b", errors.New("boom"))

	stats := c.GetStats()
	assert.EqualValues(t, 1, stats.TotalErrors)
	assert.EqualValues(t, 1, stats.ErrorsByBuilder["builder-b"])
}

func TestInMemoryCollectorCacheRatio(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordCacheHit("k1")
	c.RecordCacheHit("k2")
	c.RecordCacheMiss("k3")

	stats := c.GetStats()
	assert.InDelta(t, 2.0/3.0, stats.CacheRatio, 0.0001)
}

func TestInMemoryCollectorReset(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordJobStart("x")
	c.Reset()
	stats := c.GetStats()
	assert.EqualValues(t, 0, stats.TotalStarted)
}

func TestNoOpCollectorDoesNothing(t *testing.T) {
	var c Collector = NoOpCollector{}
	c.RecordJobStart("x")
	c.RecordJobFinished("x", time.Second)
	c.RecordJobError("x", errors.New("e"))
	c.RecordCacheHit("k")
	c.RecordCacheMiss("k")
	assert.NotNil(t, c.GetStats())
	c.Reset()
}

func TestDefaultCollector(t *testing.T) {
	assert.NotNil(t, GetDefaultCollector())
	c := NewInMemoryCollector()
	SetDefaultCollector(c)
	assert.Same(t, Collector(c), GetDefaultCollector())
	SetDefaultCollector(nil)
	assert.IsType(t, NoOpCollector{}, GetDefaultCollector())
}
