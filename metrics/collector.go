// Package metrics records per-level engine counters and a bounded log of
// recent predictions. A Collector is safe for concurrent use; every update
// goes through one mutex.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the ring size used when NewCollector gets capacity <= 0.
const DefaultCapacity = 100

// Sample is one prediction attempt.
type Sample struct {
	Time       time.Time
	Level      int
	Duration   time.Duration // end-to-end, including engine construction
	Search     time.Duration // time spent inside the engine search
	Success    bool
	ErrorCode  string // empty on success
	EngineKind string // "native", "fallback" or empty when no engine was reached
	CacheHit   bool
}

type levelStats struct {
	kind            string
	startupLatency  time.Duration
	memDelta        int64
	startups        int
	startupFailures int
	moves           int64
	failures        int64
	compute         time.Duration
	lastUsed        time.Time
}

// Collector aggregates engine metrics keyed by skill level.
type Collector struct {
	mu     sync.Mutex
	levels map[int]*levelStats
	ring   []Sample
	next   int
	count  int
	now    func() time.Time
}

// NewCollector creates a Collector whose rolling log holds capacity samples.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{
		levels: make(map[int]*levelStats),
		ring:   make([]Sample, capacity),
		now:    time.Now,
	}
}

// statsLocked returns the stats for level, creating them. Caller must hold c.mu.
func (c *Collector) statsLocked(level int) *levelStats {
	s, ok := c.levels[level]
	if !ok {
		s = &levelStats{}
		c.levels[level] = s
	}
	return s
}

// RecordStartup stores the outcome of an engine construction for level.
// It is called for successful, fallback and failed constructions alike.
func (c *Collector) RecordStartup(level int, kind string, latency time.Duration, memDelta int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.statsLocked(level)
	s.startups++
	s.startupLatency = latency
	s.memDelta = memDelta
	if err != nil {
		s.startupFailures++
		return
	}
	s.kind = kind
}

// RecordPrediction updates the level counters and appends the sample to
// the rolling log, dropping the oldest sample once the log is full.
func (c *Collector) RecordPrediction(sample Sample) {
	if sample.Time.IsZero() {
		sample.Time = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sample.Level != 0 {
		s := c.statsLocked(sample.Level)
		if sample.Success {
			s.moves++
			s.compute += sample.Search
			s.lastUsed = sample.Time
		} else {
			s.failures++
		}
	}

	c.ring[c.next] = sample
	c.next = (c.next + 1) % len(c.ring)
	if c.count < len(c.ring) {
		c.count++
	}
}

// Recent returns the samples in the rolling log, oldest first.
func (c *Collector) Recent() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentLocked()
}

func (c *Collector) recentLocked() []Sample {
	out := make([]Sample, 0, c.count)
	start := (c.next - c.count + len(c.ring)) % len(c.ring)
	for i := 0; i < c.count; i++ {
		out = append(out, c.ring[(start+i)%len(c.ring)])
	}
	return out
}

// LevelSummary is the aggregate view of one skill level.
type LevelSummary struct {
	Level            int     `json:"level"`
	EngineKind       string  `json:"engine_kind,omitempty"`
	StartupMs        float64 `json:"startup_ms"`
	MemoryDeltaBytes int64   `json:"memory_delta_bytes"`
	Startups         int     `json:"startups"`
	StartupFailures  int     `json:"startup_failures"`
	Moves            int64   `json:"moves"`
	Failures         int64   `json:"failures"`
	TotalComputeMs   float64 `json:"total_compute_ms"`
	AvgComputeMs     float64 `json:"avg_compute_ms"`
	LastUsedAgoSec   float64 `json:"last_used_ago_s"` // -1 when never used
}

// RecentSummary aggregates the rolling sample log.
type RecentSummary struct {
	Capacity      int     `json:"capacity"`
	Count         int     `json:"count"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	Fallback      int     `json:"fallback"`
	CacheHits     int     `json:"cache_hits"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
}

// Summary is a read-only snapshot of the collector. CacheSize and
// CachedLevels are filled in by the owner of the engine cache.
type Summary struct {
	Levels       []LevelSummary `json:"levels"`
	Recent       RecentSummary  `json:"recent"`
	CacheSize    int            `json:"cache_size"`
	CachedLevels []int          `json:"cached_levels"`
}

// Summary returns an aggregate snapshot, levels sorted ascending.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	levels := make([]LevelSummary, 0, len(c.levels))
	for level, s := range c.levels {
		ls := LevelSummary{
			Level:            level,
			EngineKind:       s.kind,
			StartupMs:        ms(s.startupLatency),
			MemoryDeltaBytes: s.memDelta,
			Startups:         s.startups,
			StartupFailures:  s.startupFailures,
			Moves:            s.moves,
			Failures:         s.failures,
			TotalComputeMs:   ms(s.compute),
			LastUsedAgoSec:   -1,
		}
		if s.moves > 0 {
			ls.AvgComputeMs = ls.TotalComputeMs / float64(s.moves)
		}
		if !s.lastUsed.IsZero() {
			ls.LastUsedAgoSec = now.Sub(s.lastUsed).Seconds()
		}
		levels = append(levels, ls)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	recent := RecentSummary{Capacity: len(c.ring)}
	var total time.Duration
	for _, s := range c.recentLocked() {
		recent.Count++
		if s.Success {
			recent.Successes++
		} else {
			recent.Failures++
		}
		if s.EngineKind == "fallback" {
			recent.Fallback++
		}
		if s.CacheHit {
			recent.CacheHits++
		}
		total += s.Duration
		if d := ms(s.Duration); d > recent.MaxDurationMs {
			recent.MaxDurationMs = d
		}
	}
	if recent.Count > 0 {
		recent.AvgDurationMs = ms(total) / float64(recent.Count)
	}

	return Summary{Levels: levels, Recent: recent, CachedLevels: []int{}}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
