package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/maia/api"
	"github.com/use-agent/maia/cache"
	"github.com/use-agent/maia/config"
	"github.com/use-agent/maia/engine"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("maia starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"levels", cfg.Engine.Levels,
		"lc0", cfg.Engine.LC0Path,
	)

	// ── 3. Engine factory, cache and monitor ────────────────────────
	collector := metrics.NewCollector(cfg.Metrics.Samples)
	factory := engine.NewFactory(engine.FactoryConfig{
		LC0Path:        cfg.Engine.LC0Path,
		WeightsDirs:    cfg.Engine.WeightsDirs,
		StartupTimeout: cfg.Engine.StartupTimeout,
		Threads:        cfg.Engine.Threads,
		AllowFallback:  cfg.Engine.AllowFallback,
	}, collector)

	env := factory.Validate(cfg.Engine.Levels)
	missing := 0
	for level, path := range env.Weights {
		if path == "" {
			missing++
			slog.Warn("weights not found", "level", level, "dirs", cfg.Engine.WeightsDirs)
		}
	}
	slog.Info("environment checked",
		"lc0", env.LC0Path,
		"lc0Available", env.LC0Available,
		"levels", len(env.Weights),
		"missingWeights", missing,
	)

	engines := engine.NewCache(factory)
	monitor := engine.NewMonitor(engine.MonitorConfig{
		MaxCached:       cfg.Monitor.MaxCachedLevels,
		MemoryWatermark: cfg.Monitor.MemoryWatermarkBytes(),
		IdleAfter:       cfg.Monitor.IdleEvictAfter,
		Interval:        cfg.Monitor.Interval,
	}, engines)
	monitor.Start()

	predictor := engine.NewPredictor(engines, engine.NewLevels(cfg.Engine.Levels...), collector,
		engine.WithMonitor(monitor),
		engine.WithSearchTimeout(cfg.Engine.SearchTimeout),
	)

	// ── 4. Response cache ───────────────────────────────────────────
	var cc *cache.Cache
	if cfg.Cache.MaxEntries > 0 {
		cc = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		defer cc.Close()
	}

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Predictor:   predictor,
		Cache:       cc,
		Notifier:    webhook.NewNotifier(),
		Environment: env,
		StartTime:   time.Now(),
	}, cfg)
	defer router.Close()

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			predictor.Shutdown()
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Stops the monitor and terminates every lc0 process.
	predictor.Shutdown()
	slog.Info("maia stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
