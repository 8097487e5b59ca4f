package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Monitor   MonitorConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	CORS      CORSConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// EngineConfig controls how lc0 engines are located and started.
type EngineConfig struct {
	// LC0Path is the lc0 binary name or path.
	LC0Path string // default: "lc0"

	// WeightsDirs are searched in order for maia-<level>.pb.gz.
	WeightsDirs []string // default: ["maia_weights", "models"]

	// Levels is the set of supported skill levels.
	Levels []int // default: 1100..1900 step 100

	// StartupTimeout bounds the UCI handshake of a new engine.
	StartupTimeout time.Duration // default: 30s

	// SearchTimeout bounds a single search. Zero means no bound.
	SearchTimeout time.Duration // default: 60s

	// Threads is passed to lc0 as the Threads option.
	Threads int // default: 1

	// AllowFallback serves random legal moves when lc0 is not installed.
	AllowFallback bool // default: true
}

// MonitorConfig controls idle-engine eviction.
type MonitorConfig struct {
	// MaxCachedLevels is the number of live engines above which idle ones are evicted.
	MaxCachedLevels int // default: 2

	// MemoryWatermarkMB is the combined lc0 resident size above which idle
	// engines are evicted.
	MemoryWatermarkMB int // default: 1024

	// IdleEvictAfter is how long an engine must sit unused before eviction.
	IdleEvictAfter time.Duration // default: 5m

	// Interval is the period of background sampling. Zero disables it.
	Interval time.Duration // default: 30s
}

// MetricsConfig controls the in-process metrics collector.
type MetricsConfig struct {
	// Samples is the size of the recent-prediction log.
	Samples int // default: 100
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key or client IP.
	RequestsPerSecond float64 // default: 20

	// Burst is the maximum burst size per API key or client IP.
	Burst int // default: 40
}

// CacheConfig controls the prediction response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses. Zero disables the cache.
	MaxEntries int // default: 1000

	// TTL is how long a cached prediction stays valid.
	TTL time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	// AllowOrigins lists allowed origins; "*" allows any.
	AllowOrigins []string // default: ["*"]
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("MAIA_HOST", "0.0.0.0"),
			Port: envIntOr("MAIA_PORT", 8080),
			Mode: envOr("MAIA_MODE", "release"),
		},
		Engine: EngineConfig{
			LC0Path:        envOr("MAIA_LC0_PATH", "lc0"),
			WeightsDirs:    envSliceOr("MAIA_WEIGHTS_DIRS", []string{"maia_weights", "models"}),
			Levels:         envIntSliceOr("MAIA_LEVELS", []int{1100, 1200, 1300, 1400, 1500, 1600, 1700, 1800, 1900}),
			StartupTimeout: envDurationOr("MAIA_ENGINE_STARTUP_TIMEOUT", 30*time.Second),
			SearchTimeout:  envDurationOr("MAIA_SEARCH_TIMEOUT", time.Minute),
			Threads:        envIntOr("MAIA_LC0_THREADS", 1),
			AllowFallback:  envBoolOr("MAIA_ALLOW_FALLBACK", true),
		},
		Monitor: MonitorConfig{
			MaxCachedLevels:   envIntOr("MAIA_MAX_CACHED_LEVELS", 2),
			MemoryWatermarkMB: envIntOr("MAIA_MEMORY_WATERMARK_MB", 1024),
			IdleEvictAfter:    envDurationOr("MAIA_IDLE_EVICT_AFTER", 5*time.Minute),
			Interval:          envDurationOr("MAIA_MONITOR_INTERVAL", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Samples: envIntOr("MAIA_METRICS_SAMPLES", 100),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("MAIA_AUTH_ENABLED", false),
			APIKeys: envSliceOr("MAIA_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("MAIA_RATE_RPS", 20),
			Burst:             envIntOr("MAIA_RATE_BURST", 40),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("MAIA_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("MAIA_CACHE_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("MAIA_LOG_LEVEL", "info"),
			Format: envOr("MAIA_LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowOrigins: envSliceOr("MAIA_CORS_ORIGINS", []string{"*"}),
		},
	}
}

// MemoryWatermarkBytes returns the watermark in bytes, 0 when disabled.
func (m MonitorConfig) MemoryWatermarkBytes() uint64 {
	if m.MemoryWatermarkMB <= 0 {
		return 0
	}
	return uint64(m.MemoryWatermarkMB) << 20
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envIntSliceOr parses a comma-separated list of integers. Entries that do
// not parse are skipped; an empty result falls back.
func envIntSliceOr(key string, fallback []int) []int {
	parts := envSliceOr(key, nil)
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		if i, err := strconv.Atoi(p); err == nil {
			result = append(result, i)
		}
	}
	if len(result) > 0 {
		return result
	}
	return fallback
}
