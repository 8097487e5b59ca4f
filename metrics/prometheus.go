package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SummaryFunc returns the snapshot an Exporter publishes.
type SummaryFunc func() Summary

// Exporter publishes a Summary as Prometheus metrics. It reads a fresh
// snapshot on every scrape and keeps no state of its own.
type Exporter struct {
	summary SummaryFunc

	moves       *prometheus.Desc
	failures    *prometheus.Desc
	compute     *prometheus.Desc
	startup     *prometheus.Desc
	memDelta    *prometheus.Desc
	lastUsed    *prometheus.Desc
	cacheSize   *prometheus.Desc
	recent      *prometheus.Desc
	recentAvgMs *prometheus.Desc
}

// NewExporter creates an Exporter over summary.
func NewExporter(summary SummaryFunc) *Exporter {
	return &Exporter{
		summary: summary,
		moves: prometheus.NewDesc("maia_engine_moves_total",
			"Moves produced per skill level.", []string{"level", "kind"}, nil),
		failures: prometheus.NewDesc("maia_engine_failures_total",
			"Failed predictions per skill level.", []string{"level"}, nil),
		compute: prometheus.NewDesc("maia_engine_compute_seconds_total",
			"Cumulative search time per skill level.", []string{"level"}, nil),
		startup: prometheus.NewDesc("maia_engine_startup_seconds",
			"Latency of the most recent engine construction.", []string{"level"}, nil),
		memDelta: prometheus.NewDesc("maia_engine_memory_delta_bytes",
			"Memory delta measured across the most recent engine construction.", []string{"level"}, nil),
		lastUsed: prometheus.NewDesc("maia_engine_last_used_seconds",
			"Seconds since the level last produced a move.", []string{"level"}, nil),
		cacheSize: prometheus.NewDesc("maia_engine_cache_size",
			"Number of engines currently cached.", nil, nil),
		recent: prometheus.NewDesc("maia_recent_predictions",
			"Predictions in the rolling sample log by result.", []string{"result"}, nil),
		recentAvgMs: prometheus.NewDesc("maia_recent_prediction_avg_seconds",
			"Mean duration of predictions in the rolling sample log.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.moves
	ch <- e.failures
	ch <- e.compute
	ch <- e.startup
	ch <- e.memDelta
	ch <- e.lastUsed
	ch <- e.cacheSize
	ch <- e.recent
	ch <- e.recentAvgMs
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.summary()

	for _, l := range s.Levels {
		level := strconv.Itoa(l.Level)
		ch <- prometheus.MustNewConstMetric(e.moves, prometheus.CounterValue, float64(l.Moves), level, l.EngineKind)
		ch <- prometheus.MustNewConstMetric(e.failures, prometheus.CounterValue, float64(l.Failures), level)
		ch <- prometheus.MustNewConstMetric(e.compute, prometheus.CounterValue, l.TotalComputeMs/1000, level)
		ch <- prometheus.MustNewConstMetric(e.startup, prometheus.GaugeValue, l.StartupMs/1000, level)
		ch <- prometheus.MustNewConstMetric(e.memDelta, prometheus.GaugeValue, float64(l.MemoryDeltaBytes), level)
		if l.LastUsedAgoSec >= 0 {
			ch <- prometheus.MustNewConstMetric(e.lastUsed, prometheus.GaugeValue, l.LastUsedAgoSec, level)
		}
	}

	ch <- prometheus.MustNewConstMetric(e.cacheSize, prometheus.GaugeValue, float64(s.CacheSize))
	ch <- prometheus.MustNewConstMetric(e.recent, prometheus.GaugeValue, float64(s.Recent.Successes), "success")
	ch <- prometheus.MustNewConstMetric(e.recent, prometheus.GaugeValue, float64(s.Recent.Failures), "failure")
	ch <- prometheus.MustNewConstMetric(e.recent, prometheus.GaugeValue, float64(s.Recent.Fallback), "fallback")
	ch <- prometheus.MustNewConstMetric(e.recentAvgMs, prometheus.GaugeValue, s.Recent.AvgDurationMs/1000)
}
