package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"github.com/stretchr/testify/require"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// fakeUCI is a scripted uciBackend. By default it answers every "go" with
// the first legal move of the last position it was sent.
type fakeUCI struct {
	mu       sync.Mutex
	options  map[string]string
	pos      *chess.Position
	nodes    []int
	results  uci.SearchResults
	closes   atomic.Int32
	closeErr error
	closed   chan struct{}
	stops    atomic.Int32
	stopped  chan struct{}
	pid      int

	failOption string                            // setoption name that fails
	goErr      error                             // returned for "go"
	best       func(*chess.Position) *chess.Move // overrides the default move
	blockReady chan struct{}                     // isready waits on this when set
	blockGo    chan struct{}                     // go waits on this when set
	ignoreStop bool                              // a wedged engine never answers stop
}

func newFakeUCI() *fakeUCI {
	return &fakeUCI{
		options: make(map[string]string),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (f *fakeUCI) Run(cmds ...uci.Cmd) error {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case uci.CmdSetOption:
			if c.Name == f.failOption {
				return errors.New("unable to load weights")
			}
			f.mu.Lock()
			f.options[c.Name] = c.Value
			f.mu.Unlock()
		case uci.CmdPosition:
			f.mu.Lock()
			f.pos = c.Position
			f.mu.Unlock()
		case uci.CmdGo:
			if f.blockGo != nil {
				select {
				case <-f.blockGo:
				case <-f.stopped:
				case <-f.closed:
					return errors.New("engine closed")
				}
			}
			if f.goErr != nil {
				return f.goErr
			}
			f.mu.Lock()
			f.nodes = append(f.nodes, c.Nodes)
			var best *chess.Move
			if f.best != nil {
				best = f.best(f.pos)
			} else if moves := f.pos.ValidMoves(); len(moves) > 0 {
				best = moves[0]
			}
			f.results = uci.SearchResults{BestMove: best}
			f.mu.Unlock()
		default:
			if cmd.String() == "isready" && f.blockReady != nil {
				select {
				case <-f.blockReady:
				case <-f.closed:
					return errors.New("engine closed")
				}
			}
		}
	}
	return nil
}

func (f *fakeUCI) SearchResults() uci.SearchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

func (f *fakeUCI) Stop() error {
	if f.stops.Add(1) == 1 && !f.ignoreStop {
		close(f.stopped)
	}
	return nil
}

func (f *fakeUCI) Pid() int { return f.pid }

func (f *fakeUCI) Close() error {
	if f.closes.Add(1) == 1 {
		close(f.closed)
	}
	return f.closeErr
}

func (f *fakeUCI) option(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[name]
}

func (f *fakeUCI) sentNodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.nodes...)
}

// stubHandle is a fallback handle that counts releases.
type stubHandle struct {
	*FallbackHandle
	releases     atomic.Int32
	panicRelease bool
}

func newStubHandle(level int) *stubHandle {
	return &stubHandle{FallbackHandle: newFallbackHandle(level)}
}

func (h *stubHandle) Release() {
	h.releases.Add(1)
	if h.panicRelease {
		panic("release exploded")
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// weightsDir creates a directory holding weight files for levels.
func weightsDir(t *testing.T, levels ...int) string {
	t.Helper()
	dir := t.TempDir()
	for _, level := range levels {
		require.NoError(t, os.WriteFile(filepath.Join(dir, WeightsFileName(level)), []byte("weights"), 0o644))
	}
	return dir
}

func mustPosition(t *testing.T, fen string) *chess.Position {
	t.Helper()
	pos, err := parsePosition(fen)
	require.NoError(t, err)
	return pos
}

func isLegal(pos *chess.Position, uciMove string) bool {
	for _, m := range pos.ValidMoves() {
		if (chess.UCINotation{}).Encode(pos, m) == uciMove {
			return true
		}
	}
	return false
}
