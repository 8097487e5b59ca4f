package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RingDropsOldest(t *testing.T) {
	c := NewCollector(3)
	for i := 1; i <= 5; i++ {
		c.RecordPrediction(Sample{Level: 1500, Duration: time.Duration(i) * time.Millisecond, Success: true})
	}

	recent := c.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, 3*time.Millisecond, recent[0].Duration)
	assert.Equal(t, 5*time.Millisecond, recent[2].Duration)
}

func TestCollector_RecentBeforeFull(t *testing.T) {
	c := NewCollector(4)
	c.RecordPrediction(Sample{Level: 1100, Success: true})
	c.RecordPrediction(Sample{Level: 1200, Success: true})

	recent := c.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 1100, recent[0].Level)
	assert.Equal(t, 1200, recent[1].Level)
}

func TestCollector_DefaultCapacity(t *testing.T) {
	c := NewCollector(0)
	assert.Equal(t, DefaultCapacity, c.Summary().Recent.Capacity)
}

func TestCollector_Summary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(10)
	c.now = func() time.Time { return now }

	c.RecordStartup(1500, "native", 200*time.Millisecond, 4096, nil)
	c.RecordStartup(1900, "", 10*time.Millisecond, 0, errors.New("boom"))

	c.RecordPrediction(Sample{Time: now.Add(-10 * time.Second), Level: 1500, Duration: 20 * time.Millisecond, Search: 20 * time.Millisecond, Success: true, EngineKind: "native"})
	c.RecordPrediction(Sample{Time: now.Add(-4 * time.Second), Level: 1500, Duration: 40 * time.Millisecond, Search: 40 * time.Millisecond, Success: true, EngineKind: "native", CacheHit: true})
	c.RecordPrediction(Sample{Level: 1100, Duration: 5 * time.Millisecond, Success: true, EngineKind: "fallback"})
	c.RecordPrediction(Sample{Level: 1900, Success: false, ErrorCode: "ENGINE_INIT_ERROR"})
	c.RecordPrediction(Sample{Success: false, ErrorCode: "INVALID_POSITION"})

	s := c.Summary()
	require.Len(t, s.Levels, 3)
	assert.Equal(t, []int{1100, 1500, 1900}, []int{s.Levels[0].Level, s.Levels[1].Level, s.Levels[2].Level})

	l1500 := s.Levels[1]
	assert.Equal(t, "native", l1500.EngineKind)
	assert.Equal(t, int64(2), l1500.Moves)
	assert.InDelta(t, 60.0, l1500.TotalComputeMs, 0.001)
	assert.InDelta(t, 30.0, l1500.AvgComputeMs, 0.001)
	assert.InDelta(t, 200.0, l1500.StartupMs, 0.001)
	assert.Equal(t, int64(4096), l1500.MemoryDeltaBytes)
	assert.InDelta(t, 4.0, l1500.LastUsedAgoSec, 0.001)

	l1900 := s.Levels[2]
	assert.Equal(t, 1, l1900.StartupFailures)
	assert.Equal(t, int64(1), l1900.Failures)
	assert.Equal(t, float64(-1), l1900.LastUsedAgoSec)
	assert.Empty(t, l1900.EngineKind)

	assert.Equal(t, 5, s.Recent.Count)
	assert.Equal(t, 3, s.Recent.Successes)
	assert.Equal(t, 2, s.Recent.Failures)
	assert.Equal(t, 1, s.Recent.Fallback)
	assert.Equal(t, 1, s.Recent.CacheHits)
	assert.InDelta(t, 13.0, s.Recent.AvgDurationMs, 0.001)
	assert.InDelta(t, 40.0, s.Recent.MaxDurationMs, 0.001)
	assert.NotNil(t, s.CachedLevels)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(16)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordPrediction(Sample{Level: 1300, Duration: time.Millisecond, Success: true})
			_ = c.Summary()
		}()
	}
	wg.Wait()

	s := c.Summary()
	require.Len(t, s.Levels, 1)
	assert.Equal(t, int64(50), s.Levels[0].Moves)
	assert.Equal(t, 16, s.Recent.Count)
}

func TestExporter_Collect(t *testing.T) {
	c := NewCollector(10)
	c.RecordStartup(1500, "native", time.Second, 0, nil)
	c.RecordPrediction(Sample{Level: 1500, Duration: time.Millisecond, Success: true, EngineKind: "native"})

	exp := NewExporter(func() Summary {
		s := c.Summary()
		s.CacheSize = 1
		return s
	})

	assert.Equal(t, 1, testutil.CollectAndCount(exp, "maia_engine_moves_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(exp, "maia_engine_cache_size"))
	assert.Equal(t, 3, testutil.CollectAndCount(exp, "maia_recent_predictions"))
	assert.Equal(t, 1, testutil.CollectAndCount(exp, "maia_engine_last_used_seconds"))
}
