package models

// MoveResponse is the response for POST /api/v1/move.
type MoveResponse struct {
	// Success indicates whether a move was produced.
	Success bool `json:"success"`

	// Move is the predicted move in UCI notation (e.g. "e2e4", "e7e8q").
	Move string `json:"move,omitempty"`

	// Level echoes the skill level used.
	Level int `json:"level"`

	// Nodes echoes the node budget used.
	Nodes int `json:"nodes"`

	// EngineKind is "native" for lc0 results and "fallback" for the
	// random-move backend used when lc0 is unavailable.
	EngineKind string `json:"engine_kind,omitempty"`

	// EngineCache reports whether the level's engine was already running.
	// Values: "hit" or "miss".
	EngineCache string `json:"engine_cache,omitempty"`

	// CacheStatus indicates whether the response was served from the
	// response cache. Values: "hit", "miss", or empty.
	CacheStatus string `json:"cache_status,omitempty"`

	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// ConstructionMs is the time spent starting the level's engine.
	// Zero on an engine cache hit.
	ConstructionMs int64 `json:"construction_ms"`

	// SearchMs is the time spent inside the engine search.
	SearchMs int64 `json:"search_ms"`
}

// HealthResponse is the response for GET / and GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Message string `json:"message"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// RequestCounters reports how many HTTP requests were served and failed.
type RequestCounters struct {
	Total  int64 `json:"total"`
	Errors int64 `json:"errors"`
}

// EnvironmentReport describes what the engine factory can find on disk.
type EnvironmentReport struct {
	LC0Path      string         `json:"lc0_path"`
	LC0Available bool           `json:"lc0_available"`
	Weights      map[int]string `json:"weights"` // level -> path, "" when missing
}
