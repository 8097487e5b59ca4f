package engine

import (
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig holds configuration for the memory monitor.
type MonitorConfig struct {
	// MaxCached is the number of cached levels above which idle engines are evicted.
	MaxCached int // default: 2

	// MemoryWatermark is the combined resident size in bytes of the cached
	// lc0 processes above which idle engines are evicted. Zero disables the
	// memory check.
	MemoryWatermark uint64

	// IdleAfter is how long an engine must be unused before it may be evicted.
	IdleAfter time.Duration // default: 5m

	// Interval enables periodic sampling when > 0. Checks otherwise only
	// happen when Check is called.
	Interval time.Duration
}

// MemoryGauge returns the memory used by cached engines in bytes.
type MemoryGauge func() uint64

// Monitor evicts idle engines from a Cache when too many levels are cached
// or memory is above the watermark.
type Monitor struct {
	cfg     MonitorConfig
	cache   *Cache
	memUsed MemoryGauge

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewMonitor creates a Monitor over cache. Call Start to enable periodic
// sampling when cfg.Interval is set.
func NewMonitor(cfg MonitorConfig, cache *Cache) *Monitor {
	if cfg.MaxCached < 1 {
		cfg.MaxCached = 2
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 5 * time.Minute
	}
	return &Monitor{
		cfg:     cfg,
		cache:   cache,
		memUsed: func() uint64 { return cache.engineRSS(processRSS) },
		stopped: make(chan struct{}),
	}
}

// Start launches the sampling loop if an interval is configured.
func (m *Monitor) Start() {
	if m.cfg.Interval <= 0 {
		return
	}
	go m.loop()
}

// Stop terminates the sampling loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check samples the cache size and memory usage and, when either is over
// its limit, evicts idle engines. It returns the number evicted.
func (m *Monitor) Check() int {
	size := m.cache.Len()
	mem := m.memUsed()

	overCount := size > m.cfg.MaxCached
	overMem := m.cfg.MemoryWatermark > 0 && mem > m.cfg.MemoryWatermark
	if !overCount && !overMem {
		return 0
	}

	evicted := m.cache.EvictIdle(m.cfg.IdleAfter)
	slog.Debug("memory monitor sweep",
		"cached", size,
		"memBytes", mem,
		"overCount", overCount,
		"overMem", overMem,
		"evicted", evicted,
	)
	return evicted
}
