package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/notnil/chess"
	"github.com/use-agent/maia/models"
)

// FallbackHandle plays a uniformly random legal move. It is only created
// when the lc0 binary is missing, so the service stays responsive in
// environments without the native engine. Results are tagged KindFallback.
type FallbackHandle struct {
	usage
	level int
}

func newFallbackHandle(level int) *FallbackHandle {
	return &FallbackHandle{usage: newUsage(time.Now()), level: level}
}

func (h *FallbackHandle) Level() int { return h.level }

func (h *FallbackHandle) Kind() Kind { return KindFallback }

func (h *FallbackHandle) Search(ctx context.Context, pos *chess.Position, _ int) (*chess.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewPredictError(models.ErrCodeEngineBackend, "search cancelled", err)
	}

	start := time.Now()
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return nil, models.NewPredictError(models.ErrCodeNoMoveProduced, "fallback engine found no legal move", nil)
	}
	move := moves[rand.IntN(len(moves))]
	h.record(time.Since(start))
	return move, nil
}

// Release is a no-op: the fallback owns no external resource.
func (h *FallbackHandle) Release() {}

func (h *FallbackHandle) Stats() HandleStats { return h.snapshot(h.level, KindFallback) }
