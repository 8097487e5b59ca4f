package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"github.com/use-agent/maia/models"
)

// stopGrace is how long a cancelled search may take to answer "stop"
// before its process is killed.
const stopGrace = time.Second

// uciBackend is one UCI conversation with an engine process. Run is
// serialized by the backend; Stop and Close must not wait for it.
type uciBackend interface {
	Run(cmds ...uci.Cmd) error
	SearchResults() uci.SearchResults
	Stop() error
	Close() error
	Pid() int
}

// NativeHandle drives one lc0 process over UCI. A process holds a single
// UCI conversation, so searches on the same handle are serialized.
type NativeHandle struct {
	usage
	level   int
	weights string

	mu       sync.Mutex // serializes UCI exchanges
	eng      uciBackend
	released atomic.Bool
	once     sync.Once
}

func newNativeHandle(level int, weights string, eng uciBackend) *NativeHandle {
	return &NativeHandle{
		usage:   newUsage(time.Now()),
		level:   level,
		weights: weights,
		eng:     eng,
	}
}

func (h *NativeHandle) Level() int { return h.level }

func (h *NativeHandle) Kind() Kind { return KindNative }

// Weights returns the weight file the process was loaded with.
func (h *NativeHandle) Weights() string { return h.weights }

// Search sends "position fen …" and "go nodes N" and waits for bestmove.
// When ctx ends first the engine is sent "stop"; if it does not answer
// within stopGrace the process is killed and the handle is marked broken.
func (h *NativeHandle) Search(ctx context.Context, pos *chess.Position, nodes int) (*chess.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, searchAborted(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released.Load() {
		return nil, models.NewPredictError(models.ErrCodeEngineBackend,
			fmt.Sprintf("engine for level %d already released", h.level), nil)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- h.eng.Run(uci.CmdPosition{Position: pos}, uci.CmdGo{Nodes: nodes})
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return nil, h.abort(ctx, done)
	}
	if err != nil {
		h.markBroken()
		return nil, models.NewPredictError(models.ErrCodeEngineBackend, "lc0 engine error", err)
	}

	best := h.eng.SearchResults().BestMove
	if best == nil {
		return nil, models.NewPredictError(models.ErrCodeNoMoveProduced, "engine returned no move", nil)
	}
	move := legalMove(pos, best)
	if move == nil {
		return nil, models.NewPredictError(models.ErrCodeEngineBackend,
			fmt.Sprintf("engine returned illegal move %s", best), nil)
	}

	h.record(time.Since(start))
	return move, nil
}

// abort ends a search whose caller has gone away. An engine that answers
// "stop" stays usable; one that does not is killed.
func (h *NativeHandle) abort(ctx context.Context, done <-chan error) error {
	if err := h.eng.Stop(); err == nil {
		select {
		case err := <-done:
			if err == nil {
				return searchAborted(ctx.Err())
			}
		case <-time.After(stopGrace):
		}
	}

	slog.Warn("engine unresponsive after stop, killing it", "level", h.level, "pid", h.eng.Pid())
	h.markBroken()
	h.Release()
	return searchAborted(ctx.Err())
}

// Pid returns the lc0 process id, or 0 when unknown.
func (h *NativeHandle) Pid() int { return h.eng.Pid() }

func searchAborted(err error) error {
	msg := "search cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "search timed out"
	}
	return models.NewPredictError(models.ErrCodeEngineBackend, msg, err)
}

// Release closes the lc0 process. Failures are logged, never returned.
func (h *NativeHandle) Release() {
	h.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("engine release panicked", "level", h.level, "panic", r)
			}
		}()

		// An in-flight search is not waited for; closing the process
		// makes it fail instead.
		h.released.Store(true)
		h.markBroken()
		if err := h.eng.Close(); err != nil {
			slog.Warn("engine release failed", "level", h.level, "error", err)
			return
		}
		slog.Debug("engine released", "level", h.level)
	})
}

func (h *NativeHandle) Stats() HandleStats { return h.snapshot(h.level, KindNative) }
