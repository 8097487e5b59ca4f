package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/notnil/chess/uci"
	"github.com/use-agent/maia/metrics"
	"github.com/use-agent/maia/models"
)

// FactoryConfig holds configuration for engine construction.
type FactoryConfig struct {
	LC0Path        string        // binary name or path; default "lc0"
	WeightsDirs    []string      // searched in order, first match wins
	StartupTimeout time.Duration // bound on the UCI handshake; default 30s
	Threads        int           // lc0 search threads; default 1
	AllowFallback  bool          // degrade to FallbackHandle when lc0 is missing
}

// Launcher starts a UCI process for bin. It returns an error wrapping
// exec.ErrNotFound or fs.ErrNotExist when the binary does not exist.
type Launcher func(bin string) (uciBackend, error)

// Factory creates Handles for skill levels.
type Factory struct {
	cfg     FactoryConfig
	launch  Launcher
	rss     func(pid int) uint64
	metrics *metrics.Collector
}

// NewFactory creates a Factory that runs lc0 as a child process.
func NewFactory(cfg FactoryConfig, collector *metrics.Collector) *Factory {
	if cfg.LC0Path == "" {
		cfg.LC0Path = "lc0"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	return &Factory{cfg: cfg, launch: launchLC0, rss: processRSS, metrics: collector}
}

// launchLC0 resolves bin on PATH before starting it so a missing binary is
// reported synchronously as *exec.Error.
func launchLC0(bin string) (uciBackend, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}
	return startProcess(path)
}

// Create resolves the weights for level and starts a backend for them.
//
// A missing weight file fails with MODEL_NOT_FOUND before any process is
// started. A missing lc0 binary yields a FallbackHandle when the factory
// allows it. Any other launch failure is ENGINE_INIT_ERROR.
//
// The recorded memory delta is the resident size of the new lc0 process
// once it has loaded its weights; fallbacks and failures record zero.
func (f *Factory) Create(ctx context.Context, level int) (Handle, error) {
	start := time.Now()

	h, err := f.create(ctx, level)

	latency := time.Since(start)
	var memDelta int64
	kind := ""
	if h != nil {
		kind = string(h.Kind())
		if nh, ok := h.(*NativeHandle); ok {
			memDelta = int64(f.rss(nh.Pid()))
		}
	}
	if f.metrics != nil {
		f.metrics.RecordStartup(level, kind, latency, memDelta, err)
	}

	if err != nil {
		slog.Error("engine construction failed", "level", level, "error", err, "elapsed", latency)
		return nil, err
	}
	slog.Info("engine constructed", "level", level, "kind", kind, "elapsed", latency, "memDelta", memDelta)
	return h, nil
}

func (f *Factory) create(ctx context.Context, level int) (Handle, error) {
	weights, err := ResolveWeights(f.cfg.WeightsDirs, level)
	if err != nil {
		return nil, models.NewPredictError(models.ErrCodeModelNotFound,
			fmt.Sprintf("model file not found for level %d", level), err)
	}

	eng, err := f.launch(f.cfg.LC0Path)
	if err != nil {
		if isBinaryMissing(err) && f.cfg.AllowFallback {
			slog.Warn("lc0 binary not found, using random-move fallback",
				"level", level, "lc0", f.cfg.LC0Path, "error", err)
			return newFallbackHandle(level), nil
		}
		return nil, models.NewPredictError(models.ErrCodeEngineInit, "failed to launch lc0", err)
	}

	if err := f.handshake(ctx, eng, weights); err != nil {
		if cerr := eng.Close(); cerr != nil {
			slog.Warn("closing failed engine", "level", level, "error", cerr)
		}
		return nil, models.NewPredictError(models.ErrCodeEngineInit,
			fmt.Sprintf("failed to initialise lc0 for level %d", level), err)
	}

	return newNativeHandle(level, weights, eng), nil
}

// handshake runs uci / setoption / isready, bounded by StartupTimeout.
func (f *Factory) handshake(ctx context.Context, eng uciBackend, weights string) error {
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(
			uci.CmdUCI,
			uci.CmdSetOption{Name: "WeightsFile", Value: weights},
			uci.CmdSetOption{Name: "Threads", Value: strconv.Itoa(f.cfg.Threads)},
			uci.CmdIsReady,
		)
	}()

	timer := time.NewTimer(f.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("handshake timed out after %s", f.cfg.StartupTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Validate reports where lc0 and each level's weights resolve to.
func (f *Factory) Validate(levels []int) models.EnvironmentReport {
	report := models.EnvironmentReport{
		LC0Path: f.cfg.LC0Path,
		Weights: make(map[int]string, len(levels)),
	}
	if path, err := exec.LookPath(f.cfg.LC0Path); err == nil {
		report.LC0Path = path
		report.LC0Available = true
	}
	for _, level := range levels {
		path, _ := ResolveWeights(f.cfg.WeightsDirs, level)
		report.Weights[level] = path
	}
	return report
}

func isBinaryMissing(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
