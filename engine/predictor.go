package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/notnil/chess"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
)

const (
	// MinNodes is the smallest accepted node budget.
	MinNodes = 1

	// MaxNodes is the largest accepted node budget.
	MaxNodes = 10000
)

// Prediction is a successful move prediction.
type Prediction struct {
	Move         string // UCI notation, e.g. "e2e4"
	Level        int
	Nodes        int
	Kind         Kind
	CacheHit     bool          // the level's engine already existed
	Construction time.Duration // time spent in Cache.Acquire
	Search       time.Duration
	Total        time.Duration
}

// Predictor validates requests, obtains engines from a Cache and runs
// searches. It is safe for concurrent use.
type Predictor struct {
	cache         *Cache
	levels        Levels
	metrics       *metrics.Collector
	monitor       *Monitor
	searchTimeout time.Duration
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithMonitor runs m.Check after every engine cache miss.
func WithMonitor(m *Monitor) PredictorOption {
	return func(p *Predictor) { p.monitor = m }
}

// WithSearchTimeout bounds each search by d of wall-clock time. An
// overrunning engine is sent "stop", and killed if it does not answer.
func WithSearchTimeout(d time.Duration) PredictorOption {
	return func(p *Predictor) { p.searchTimeout = d }
}

// NewPredictor creates a Predictor.
func NewPredictor(cache *Cache, levels Levels, collector *metrics.Collector, opts ...PredictorOption) *Predictor {
	p := &Predictor{cache: cache, levels: levels, metrics: collector}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Levels returns the supported skill levels.
func (p *Predictor) Levels() Levels { return p.levels }

// Predict returns the move the level's engine plays in fen with a budget
// of nodes. Checks run in this order and stop at the first failure:
// position syntax, legal moves, node budget, level, engine construction,
// search. Failures are *models.PredictError values.
func (p *Predictor) Predict(ctx context.Context, fen string, level, nodes int) (*Prediction, error) {
	start := time.Now()
	pred, kind, err := p.predict(ctx, fen, level, nodes)

	sample := metrics.Sample{
		Time:       start,
		Duration:   time.Since(start),
		Success:    err == nil,
		EngineKind: string(kind),
	}
	if p.levels.Contains(level) {
		sample.Level = level
	}
	if err != nil {
		sample.ErrorCode = models.ErrorCode(err)
	} else {
		pred.Total = sample.Duration
		sample.Search = pred.Search
		sample.CacheHit = pred.CacheHit
	}
	if p.metrics != nil {
		p.metrics.RecordPrediction(sample)
	}
	return pred, err
}

func (p *Predictor) predict(ctx context.Context, fen string, level, nodes int) (*Prediction, Kind, error) {
	pos, err := parsePosition(fen)
	if err != nil {
		return nil, "", models.NewPredictError(models.ErrCodeInvalidPosition,
			fmt.Sprintf("invalid FEN string: %q", fen), err)
	}
	if len(pos.ValidMoves()) == 0 {
		return nil, "", models.NewPredictError(models.ErrCodeNoLegalMoves,
			"no legal moves available in the given position", nil)
	}
	if nodes < MinNodes || nodes > MaxNodes {
		return nil, "", models.NewPredictError(models.ErrCodeInvalidNodeBudget,
			fmt.Sprintf("nodes must be an integer between %d and %d", MinNodes, MaxNodes), nil)
	}
	if !p.levels.Contains(level) {
		return nil, "", models.NewPredictError(models.ErrCodeInvalidLevel,
			fmt.Sprintf("unsupported level %d, supported levels: %v", level, p.levels.All()), nil)
	}

	acquireStart := time.Now()
	h, hit, err := p.cache.Acquire(ctx, level)
	construction := time.Since(acquireStart)
	if err != nil {
		return nil, "", err
	}
	if !hit && p.monitor != nil {
		p.monitor.Check()
	}

	searchStart := time.Now()
	move, err := p.search(ctx, h, pos, nodes)
	searchTime := time.Since(searchStart)
	if err != nil {
		return nil, h.Kind(), err
	}

	return &Prediction{
		Move:         chess.UCINotation{}.Encode(pos, move),
		Level:        level,
		Nodes:        nodes,
		Kind:         h.Kind(),
		CacheHit:     hit,
		Construction: construction,
		Search:       searchTime,
	}, h.Kind(), nil
}

// search runs h.Search under the configured deadline and hands h back to
// the cache. A handle left broken by the search is discarded so the next
// request for its level starts a fresh engine.
func (p *Predictor) search(ctx context.Context, h Handle, pos *chess.Position, nodes int) (*chess.Move, error) {
	defer p.cache.Return(h)

	if p.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.searchTimeout)
		defer cancel()
	}

	move, err := h.Search(ctx, pos, nodes)
	if err != nil && !h.tracker().healthy() {
		p.cache.Discard(h)
	}
	return move, err
}

// Summary returns the metrics snapshot with the cache's current contents.
func (p *Predictor) Summary() metrics.Summary {
	var s metrics.Summary
	if p.metrics != nil {
		s = p.metrics.Summary()
	}
	s.CacheSize = p.cache.Len()
	s.CachedLevels = p.cache.Levels()
	return s
}

// Shutdown releases every cached engine.
func (p *Predictor) Shutdown() {
	if p.monitor != nil {
		p.monitor.Stop()
	}
	p.cache.ShutdownAll()
}

// parsePosition decodes fen, turning decoder panics on malformed input
// into errors. Boards without exactly one king per side are rejected.
func parsePosition(fen string) (pos *chess.Position, err error) {
	defer func() {
		if r := recover(); r != nil {
			pos, err = nil, fmt.Errorf("malformed FEN: %v", r)
		}
	}()

	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	pos = chess.NewGame(opt).Position()

	var white, black int
	for _, piece := range pos.Board().SquareMap() {
		switch piece {
		case chess.WhiteKing:
			white++
		case chess.BlackKing:
			black++
		}
	}
	if white != 1 || black != 1 {
		return nil, fmt.Errorf("board needs one king per side, has %d white and %d black", white, black)
	}
	return pos, nil
}
