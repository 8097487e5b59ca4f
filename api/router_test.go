package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/maia/config"
	"github.com/use-agent/maia/engine"
	"github.com/use-agent/maia/metrics"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type fixedPredictor struct{}

func (fixedPredictor) Predict(_ context.Context, _ string, level, nodes int) (*engine.Prediction, error) {
	return &engine.Prediction{Move: "g1f3", Level: level, Nodes: nodes, Kind: engine.KindNative}, nil
}

func (fixedPredictor) Summary() metrics.Summary {
	return metrics.Summary{
		Levels:       []metrics.LevelSummary{{Level: 1500, EngineKind: "native", Moves: 3, LastUsedAgoSec: 1}},
		CachedLevels: []int{1500},
		CacheSize:    1,
	}
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) *Router {
	t.Helper()
	r := NewRouter(Deps{Predictor: fixedPredictor{}, StartTime: time.Now()}, cfg)
	t.Cleanup(r.Close)
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	r := newTestRouter(t, testConfig())
	moveBody := `{"fen":"` + startFEN + `"}`

	for _, path := range []string{"/api/v1/move", "/get_move"} {
		w := do(r, http.MethodPost, path, moveBody, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"move":"g1f3"`, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}

	for _, path := range []string{"/", "/api/v1/health", "/api/v1/status"} {
		w := do(r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_RequestIDPropagated(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := do(r, http.MethodPost, "/api/v1/move", `{"fen":"`+startFEN+`"}`, map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"request_id":"abc-123"`)
}

func TestRouter_StatusCountsRequests(t *testing.T) {
	r := newTestRouter(t, testConfig())

	do(r, http.MethodPost, "/api/v1/move", `{"fen":"`+startFEN+`"}`, nil)
	do(r, http.MethodPost, "/api/v1/move", `{"fen":`, nil)

	w := do(r, http.MethodGet, "/api/v1/status", "", nil)
	assert.Contains(t, w.Body.String(), `"requests":{"total":2,"errors":1}`)
}

func TestRouter_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}}
	r := newTestRouter(t, cfg)
	body := `{"fen":"` + startFEN + `"}`

	w := do(r, http.MethodPost, "/api/v1/move", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = do(r, http.MethodPost, "/get_move", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/move", body, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health checks stay open.
	w = do(r, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	r := newTestRouter(t, cfg)
	body := `{"fen":"` + startFEN + `"}`

	for range 2 {
		require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/move", body, nil).Code)
	}
	w := do(r, http.MethodPost, "/api/v1/move", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRouter_Metrics(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w := do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `maia_engine_moves_total{kind="native",level="1500"} 3`)
	assert.Contains(t, body, "maia_engine_cache_size 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/move", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
