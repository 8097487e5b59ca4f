package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/maia/models"
)

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  *models.MoveResponse
	createdAt time.Time
}

// Cache is an in-memory cache of move predictions. Only native engine
// results belong here; the fallback backend is random and never cached.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache holding at most maxEntries responses for ttl each.
// A background goroutine evicts expired entries every ttl/4 until Close.
func New(maxEntries int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Key generates a cache key from the position, level and node budget.
func Key(fen string, level, nodes int) string {
	h := sha256.New()
	h.Write([]byte(fen))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(level)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(nodes)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached response if it exists and has not expired.
// The returned value is a copy the caller may modify.
func (c *Cache) Get(key string) (*models.MoveResponse, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}

	resp := *e.response
	return &resp, true
}

// Set stores a copy of resp. If the cache is at capacity, a random entry
// is evicted to make room. A cache with maxEntries <= 0 stores nothing.
func (c *Cache) Set(key string, resp *models.MoveResponse) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Map iteration order is random, so this drops an arbitrary entry.
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	stored := *resp
	c.store[key] = &entry{
		response:  &stored,
		createdAt: c.now(),
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// purge removes entries older than the TTL.
func (c *Cache) purge() int {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}
