package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/maia/cache"
	"github.com/use-agent/maia/engine"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
	"github.com/use-agent/maia/webhook"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func init() {
	gin.SetMode(gin.TestMode)
}

type predictCall struct {
	fen          string
	level, nodes int
}

type stubPredictor struct {
	mu    sync.Mutex
	calls []predictCall
	kind  engine.Kind
	err   error
}

func (s *stubPredictor) Predict(_ context.Context, fen string, level, nodes int) (*engine.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, predictCall{fen, level, nodes})
	if s.err != nil {
		return nil, s.err
	}
	kind := s.kind
	if kind == "" {
		kind = engine.KindNative
	}
	return &engine.Prediction{
		Move:         "e2e4",
		Level:        level,
		Nodes:        nodes,
		Kind:         kind,
		CacheHit:     len(s.calls) > 1,
		Construction: 40 * time.Millisecond,
		Search:       3 * time.Millisecond,
	}, nil
}

func (s *stubPredictor) Summary() metrics.Summary {
	return metrics.Summary{CacheSize: 1, CachedLevels: []int{1500}}
}

func (s *stubPredictor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubPredictor) lastCall() predictCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func postJSON(t *testing.T, h gin.HandlerFunc, body string) (*httptest.ResponseRecorder, models.MoveResponse) {
	t.Helper()
	r := gin.New()
	r.POST("/move", h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/move", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var resp models.MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestMove_Success(t *testing.T) {
	p := &stubPredictor{}
	w, resp := postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`","level":1500,"nodes":1}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "e2e4", resp.Move)
	assert.Equal(t, 1500, resp.Level)
	assert.Equal(t, 1, resp.Nodes)
	assert.Equal(t, "native", resp.EngineKind)
	assert.Equal(t, "miss", resp.EngineCache)
	assert.Equal(t, int64(40), resp.Timing.ConstructionMs)
	assert.Equal(t, int64(3), resp.Timing.SearchMs)
	assert.Empty(t, resp.CacheStatus)
	assert.Nil(t, resp.Error)
}

func TestMove_Defaults(t *testing.T) {
	p := &stubPredictor{}
	w, _ := postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, predictCall{startFEN, models.DefaultLevel, models.DefaultNodes}, p.lastCall())
}

func TestMove_Aliases(t *testing.T) {
	p := &stubPredictor{}
	w, _ := postJSON(t, Move(p, nil), `{"position":"`+startFEN+`","level":1100,"nodeBudget":25}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, predictCall{startFEN, 1100, 25}, p.lastCall())
}

func TestMove_NonIntegerValuesReachPipeline(t *testing.T) {
	p := &stubPredictor{}
	postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`","level":"high","nodes":1.5}`)

	assert.Equal(t, predictCall{startFEN, 0, 0}, p.lastCall())
}

func TestMove_MalformedBody(t *testing.T) {
	p := &stubPredictor{}
	w, resp := postJSON(t, Move(p, nil), `{"fen":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeInvalidInput, resp.Error.Code)
	assert.Zero(t, p.callCount())
}

func TestMove_ErrorStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{models.ErrCodeInvalidPosition, http.StatusBadRequest},
		{models.ErrCodeNoLegalMoves, http.StatusBadRequest},
		{models.ErrCodeInvalidNodeBudget, http.StatusBadRequest},
		{models.ErrCodeInvalidLevel, http.StatusBadRequest},
		{models.ErrCodeModelNotFound, http.StatusNotFound},
		{models.ErrCodeEngineInit, http.StatusServiceUnavailable},
		{models.ErrCodeEngineBackend, http.StatusBadGateway},
		{models.ErrCodeNoMoveProduced, http.StatusBadGateway},
		{models.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p := &stubPredictor{err: models.NewPredictError(tt.code, "failed", nil)}
			w, resp := postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "failed", resp.Error.Message)
		})
	}
}

func TestMove_UncodedErrorIsInternal(t *testing.T) {
	p := &stubPredictor{err: assert.AnError}
	w, resp := postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, models.ErrCodeInternal, resp.Error.Code)
}

func TestMove_ResponseCache(t *testing.T) {
	cc := cache.New(10, time.Hour)
	defer cc.Close()
	p := &stubPredictor{}
	body := `{"fen":"` + startFEN + `","level":1500,"nodes":1}`

	_, first := postJSON(t, Move(p, cc), body)
	assert.Equal(t, "miss", first.CacheStatus)

	_, second := postJSON(t, Move(p, cc), body)
	assert.Equal(t, "hit", second.CacheStatus)
	assert.Equal(t, "e2e4", second.Move)
	assert.Equal(t, 1, p.callCount())

	// A different node budget is a different answer.
	postJSON(t, Move(p, cc), `{"fen":"`+startFEN+`","level":1500,"nodes":2}`)
	assert.Equal(t, 2, p.callCount())
}

func TestMove_FallbackNotCached(t *testing.T) {
	cc := cache.New(10, time.Hour)
	defer cc.Close()
	p := &stubPredictor{kind: engine.KindFallback}
	body := `{"fen":"` + startFEN + `"}`

	postJSON(t, Move(p, cc), body)
	_, resp := postJSON(t, Move(p, cc), body)

	assert.Equal(t, 2, p.callCount())
	assert.Empty(t, resp.CacheStatus)
	assert.Equal(t, "fallback", resp.EngineKind)
	assert.Zero(t, cc.Len())
}

func TestMove_FallbackPipeline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, engine.WeightsFileName(1500)), []byte("w"), 0o644))

	factory := engine.NewFactory(engine.FactoryConfig{
		LC0Path:       "maia-test-no-such-lc0-binary",
		WeightsDirs:   []string{dir},
		AllowFallback: true,
	}, nil)
	p := engine.NewPredictor(engine.NewCache(factory), engine.NewLevels(engine.DefaultLevels...), metrics.NewCollector(10))
	defer p.Shutdown()

	w, resp := postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "fallback", resp.EngineKind)

	pos := mustPosition(t, startFEN)
	legal := false
	for _, m := range pos.ValidMoves() {
		if (chess.UCINotation{}).Encode(pos, m) == resp.Move {
			legal = true
		}
	}
	assert.True(t, legal, "move %q", resp.Move)

	w, resp = postJSON(t, Move(p, nil), `{"fen":"`+startFEN+`","level":1900}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.ErrCodeModelNotFound, resp.Error.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		available bool
		status    string
	}{
		{true, "ok"},
		{false, "degraded"},
	}
	for _, tt := range tests {
		r := gin.New()
		r.GET("/", Health(models.EnvironmentReport{LC0Available: tt.available}, time.Now()))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		var resp models.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tt.status, resp.Status)
		assert.Equal(t, Version, resp.Version)
		assert.NotEmpty(t, resp.Message)
	}
}

func TestStatus(t *testing.T) {
	env := models.EnvironmentReport{LC0Path: "lc0", Weights: map[int]string{1500: "/w/maia-1500.pb.gz"}}
	requests := func() models.RequestCounters { return models.RequestCounters{Total: 7, Errors: 2} }

	r := gin.New()
	r.GET("/status", Status(&stubPredictor{}, requests, env, time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["cache_size"])
	assert.Equal(t, []any{float64(1500)}, body["cached_levels"])
	assert.Equal(t, map[string]any{"total": float64(7), "errors": float64(2)}, body["requests"])
	assert.Contains(t, body, "recent")
	assert.Contains(t, body, "environment")
}

func TestBatch(t *testing.T) {
	p := &stubPredictor{}
	store := NewBatchStore()

	r := gin.New()
	r.POST("/batch", PostBatch(p, nil, store, nil))
	r.GET("/batch/:id", GetBatch(store))

	body := `{"positions":["` + startFEN + `","` + startFEN + `","` + startFEN + `"],"options":{"level":1300}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var created models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 3, created.Total)
	assert.Equal(t, "processing", created.Status)
	require.NotEmpty(t, created.ID)

	var status models.BatchStatusResponse
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batch/"+created.ID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, status.Completed)
	require.Len(t, status.Results, 3)
	for _, res := range status.Results {
		assert.Equal(t, "e2e4", res.Move)
		assert.Equal(t, 1300, res.Level)
		assert.Equal(t, models.DefaultNodes, res.Nodes)
	}
}

func TestBatch_Validation(t *testing.T) {
	store := NewBatchStore()
	r := gin.New()
	r.POST("/batch", PostBatch(&stubPredictor{}, nil, store, nil))
	r.GET("/batch/:id", GetBatch(store))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(`{"positions":[]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batch/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatch_Webhook(t *testing.T) {
	type delivery struct {
		sig  string
		body []byte
	}
	got := make(chan delivery, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- delivery{sig: r.Header.Get(webhook.SignatureHeader), body: b}
	}))
	defer hook.Close()

	store := NewBatchStore()
	r := gin.New()
	r.POST("/batch", PostBatch(&stubPredictor{}, nil, store, webhook.NewNotifier()))

	body := `{"positions":["` + startFEN + `"],"webhook_url":"` + hook.URL + `","webhook_secret":"k"}`
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	select {
	case d := <-got:
		assert.Equal(t, webhook.Sign("k", d.body), d.sig)
		var event struct {
			Type  string                     `json:"type"`
			JobID string                     `json:"job_id"`
			Data  models.BatchStatusResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(d.body, &event))
		assert.Equal(t, "batch.completed", event.Type)
		assert.Equal(t, event.JobID, event.Data.ID)
		assert.Equal(t, 1, event.Data.Completed)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestBatch_InvalidWebhookURL(t *testing.T) {
	r := gin.New()
	r.POST("/batch", PostBatch(&stubPredictor{}, nil, NewBatchStore(), webhook.NewNotifier()))

	body := `{"positions":["` + startFEN + `"],"webhook_url":"not a url"}`
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatch_FailedPositions(t *testing.T) {
	p := &stubPredictor{err: models.NewPredictError(models.ErrCodeInvalidPosition, "bad fen", nil)}
	store := NewBatchStore()
	job := &models.BatchJob{ID: "b", Status: "processing", Total: 2, Results: make([]*models.MoveResponse, 2)}
	store.add(job)

	runBatch(context.Background(), p, nil, store, job, models.BatchRequest{
		Positions: []string{"x", "y"},
		Options:   models.BatchOptions{Level: json.RawMessage("1500"), Nodes: json.RawMessage("1")},
	})

	snap, ok := store.snapshot("b")
	require.True(t, ok)
	assert.Equal(t, "failed", snap.Status)
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, models.ErrCodeInvalidPosition, snap.Results[0].Error.Code)
}

func TestBatch_NodeBudgetValidated(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, engine.WeightsFileName(1500)), []byte("w"), 0o644))
	factory := engine.NewFactory(engine.FactoryConfig{
		LC0Path:       "maia-test-no-such-lc0-binary",
		WeightsDirs:   []string{dir},
		AllowFallback: true,
	}, nil)
	p := engine.NewPredictor(engine.NewCache(factory), engine.NewLevels(engine.DefaultLevels...), nil)
	defer p.Shutdown()

	store := NewBatchStore()
	r := gin.New()
	r.POST("/batch", PostBatch(p, nil, store, nil))
	r.GET("/batch/:id", GetBatch(store))

	for _, nodes := range []string{"0", "10001", "1.5", `"abc"`} {
		t.Run(nodes, func(t *testing.T) {
			body := `{"positions":["` + startFEN + `"],"options":{"level":1500,"nodes":` + nodes + `}}`
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

			var created models.BatchResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

			var status models.BatchStatusResponse
			require.Eventually(t, func() bool {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batch/"+created.ID, nil))
				return json.Unmarshal(w.Body.Bytes(), &status) == nil && status.Status != "processing"
			}, 2*time.Second, 10*time.Millisecond)

			assert.Equal(t, "failed", status.Status)
			require.Len(t, status.Results, 1)
			require.NotNil(t, status.Results[0].Error)
			assert.Equal(t, models.ErrCodeInvalidNodeBudget, status.Results[0].Error.Code)
		})
	}
}

func TestBatch_ExplicitOptionsReachPredictor(t *testing.T) {
	p := &stubPredictor{}
	store := NewBatchStore()
	job := &models.BatchJob{ID: "b", Status: "processing", Total: 1, Results: make([]*models.MoveResponse, 1)}
	store.add(job)

	var req models.BatchRequest
	require.NoError(t, json.Unmarshal([]byte(`{"positions":["`+startFEN+`"],"options":{"level":1700,"nodes":0}}`), &req))
	runBatch(context.Background(), p, nil, store, job, req)

	assert.Equal(t, predictCall{startFEN, 1700, 0}, p.lastCall())
}

func mustPosition(t *testing.T, fen string) *chess.Position {
	t.Helper()
	opt, err := chess.FEN(fen)
	require.NoError(t, err)
	return chess.NewGame(opt).Position()
}
