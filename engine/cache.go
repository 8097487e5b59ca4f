package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/maia/models"
	"golang.org/x/sync/singleflight"
)

// Creator constructs a Handle for a level. *Factory implements it.
type Creator interface {
	Create(ctx context.Context, level int) (Handle, error)
}

// CreatorFunc adapts a function to the Creator interface.
type CreatorFunc func(ctx context.Context, level int) (Handle, error)

// Create calls f.
func (f CreatorFunc) Create(ctx context.Context, level int) (Handle, error) { return f(ctx, level) }

// Cache maps skill levels to live Handles, holding at most one handle per
// level. It is safe for concurrent use.
//
// Every Handle returned by Acquire is marked in use until the caller hands
// it back with Return; EvictIdle never touches an in-use handle.
type Cache struct {
	creator Creator
	group   singleflight.Group

	mu      sync.Mutex
	entries map[int]Handle
	closed  bool
	now     func() time.Time
}

// NewCache creates an empty Cache that builds handles with creator.
func NewCache(creator Creator) *Cache {
	return &Cache{
		creator: creator,
		entries: make(map[int]Handle),
		now:     time.Now,
	}
}

type flight struct {
	h       Handle
	created bool
}

// Acquire returns the handle for level, constructing it on a miss.
// hit is false when this call (or a concurrent one it waited for)
// constructed the handle. Concurrent misses on the same level share a
// single construction.
func (c *Cache) Acquire(ctx context.Context, level int) (Handle, bool, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, false, errCacheClosed()
		}
		if h, ok := c.entries[level]; ok {
			h.tracker().begin(c.now())
			c.mu.Unlock()
			return h, true, nil
		}
		c.mu.Unlock()

		v, err, _ := c.group.Do(strconv.Itoa(level), func() (any, error) {
			return c.construct(ctx, level)
		})
		if err != nil {
			return nil, false, err
		}
		f := v.(*flight)

		c.mu.Lock()
		if cur, ok := c.entries[level]; ok && cur == f.h {
			f.h.tracker().begin(c.now())
			c.mu.Unlock()
			return f.h, !f.created, nil
		}
		c.mu.Unlock()
		// Evicted or shut down between construction and pickup; retry.
	}
}

// construct runs once per level per flight. The creator is called outside
// the cache lock so one slow construction never blocks other levels.
func (c *Cache) construct(ctx context.Context, level int) (*flight, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errCacheClosed()
	}
	if h, ok := c.entries[level]; ok {
		c.mu.Unlock()
		return &flight{h: h}, nil
	}
	c.mu.Unlock()

	// Waiters share this construction, so it must not die with the
	// context of whichever caller happened to start it.
	h, err := c.creator.Create(context.WithoutCancel(ctx), level)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Release()
		return nil, errCacheClosed()
	}
	c.entries[level] = h
	c.mu.Unlock()
	return &flight{h: h, created: true}, nil
}

// Return ends a caller's use of a handle obtained from Acquire.
func (c *Cache) Return(h Handle) {
	h.tracker().end(c.now())
}

// Discard removes h from the cache if it is still the entry for its level
// and releases it. The next Acquire for the level constructs a new engine.
func (c *Cache) Discard(h Handle) {
	c.mu.Lock()
	if cur, ok := c.entries[h.Level()]; ok && cur == h {
		delete(c.entries, h.Level())
	}
	c.mu.Unlock()

	safeRelease(h)
	slog.Warn("engine discarded", "level", h.Level(), "kind", h.Kind())
}

// EvictIdle releases every handle that is not in use and has been idle
// longer than maxAge. It returns the number of handles evicted.
func (c *Cache) EvictIdle(maxAge time.Duration) int {
	now := c.now()

	c.mu.Lock()
	var victims []Handle
	for level, h := range c.entries {
		if h.tracker().evictable(now, maxAge) {
			delete(c.entries, level)
			victims = append(victims, h)
		}
	}
	c.mu.Unlock()

	for _, h := range victims {
		safeRelease(h)
		slog.Info("engine evicted", "level", h.Level(), "kind", h.Kind(), "maxAge", maxAge)
	}
	return len(victims)
}

// ShutdownAll releases every cached handle and closes the cache to new
// acquisitions. Searches still in flight are not waited for.
func (c *Cache) ShutdownAll() {
	c.mu.Lock()
	c.closed = true
	handles := make([]Handle, 0, len(c.entries))
	for level, h := range c.entries {
		handles = append(handles, h)
		delete(c.entries, level)
	}
	c.mu.Unlock()

	for _, h := range handles {
		safeRelease(h)
	}
	slog.Info("engine cache shut down", "released", len(handles))
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Levels returns the cached levels in ascending order.
func (c *Cache) Levels() []int {
	c.mu.Lock()
	levels := make([]int, 0, len(c.entries))
	for level := range c.entries {
		levels = append(levels, level)
	}
	c.mu.Unlock()
	sort.Ints(levels)
	return levels
}

// Stats returns a usage snapshot of every cached handle.
func (c *Cache) Stats() []HandleStats {
	c.mu.Lock()
	handles := make([]Handle, 0, len(c.entries))
	for _, h := range c.entries {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	stats := make([]HandleStats, 0, len(handles))
	for _, h := range handles {
		stats = append(stats, h.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Level < stats[j].Level })
	return stats
}

// safeRelease calls Release and swallows any panic so one bad handle
// cannot abort a sweep.
func safeRelease(h Handle) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine release panicked", "level", h.Level(), "panic", fmt.Sprint(r))
		}
	}()
	h.Release()
}

func errCacheClosed() error {
	return models.NewPredictError(models.ErrCodeEngineInit, "engine cache is shut down", nil)
}
