package engine

import (
	"context"
	"sync"
	"time"

	"github.com/notnil/chess"
)

// Kind tags every result with the backend that produced it.
type Kind string

const (
	// KindNative is an lc0 process loaded with Maia weights.
	KindNative Kind = "native"

	// KindFallback is the random-move backend used when lc0 is not installed.
	KindFallback Kind = "fallback"
)

// Handle owns one running search backend bound to a skill level.
// Handles are created by a Factory, owned by a Cache, and destroyed only
// by an explicit Release.
type Handle interface {
	// Level returns the skill level the backend was loaded for.
	Level() int

	// Kind reports whether the backend is native or the fallback.
	Kind() Kind

	// Search returns a legal move for pos within the node budget. It does
	// not touch cache state; it only updates the handle's own counters.
	Search(ctx context.Context, pos *chess.Position, nodes int) (*chess.Move, error)

	// Release terminates the backend. It is idempotent and never panics.
	Release()

	// Stats returns a snapshot of the handle's usage counters.
	Stats() HandleStats

	tracker() *usage
}

// HandleStats is a snapshot of a handle's usage.
type HandleStats struct {
	Level     int           `json:"level"`
	Kind      Kind          `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	LastUsed  time.Time     `json:"last_used"`
	Moves     int64         `json:"moves"`
	Compute   time.Duration `json:"compute"`
	InUse     int           `json:"in_use"`
}

// usage tracks lifecycle metadata shared by every Handle implementation.
// begin and end bracket a caller's use so the cache never evicts a handle
// in the middle of a search.
type usage struct {
	mu       sync.Mutex
	created  time.Time
	lastUsed time.Time
	inUse    int
	moves    int64
	compute  time.Duration
	broken   bool
}

func newUsage(now time.Time) usage {
	return usage{created: now, lastUsed: now}
}

func (u *usage) tracker() *usage { return u }

func (u *usage) begin(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inUse++
	u.lastUsed = now
}

func (u *usage) end(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.inUse > 0 {
		u.inUse--
	}
	u.lastUsed = now
}

// markBroken flags the backend as unusable; the predictor discards it.
func (u *usage) markBroken() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.broken = true
}

func (u *usage) healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.broken
}

// record adds one completed search to the counters.
func (u *usage) record(elapsed time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.moves++
	u.compute += elapsed
}

// evictable reports whether the handle is idle and older than maxAge.
func (u *usage) evictable(now time.Time, maxAge time.Duration) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inUse == 0 && now.Sub(u.lastUsed) > maxAge
}

func (u *usage) snapshot(level int, kind Kind) HandleStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return HandleStats{
		Level:     level,
		Kind:      kind,
		CreatedAt: u.created,
		LastUsed:  u.lastUsed,
		Moves:     u.moves,
		Compute:   u.compute,
		InUse:     u.inUse,
	}
}

// legalMove returns the move from pos's legal set that matches m, or nil.
func legalMove(pos *chess.Position, m *chess.Move) *chess.Move {
	for _, legal := range pos.ValidMoves() {
		if legal.S1() == m.S1() && legal.S2() == m.S2() && legal.Promo() == m.Promo() {
			return legal
		}
	}
	return nil
}
