// Package metrics holds the prometheus collectors shared across the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts cache hits per tier ("memory", "redis").
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklab_cache_hits_total",
		Help: "Cache hits by tier",
	}, []string{"tier"})

	// CacheMisses counts cache misses per tier.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklab_cache_misses_total",
		Help: "Cache misses by tier",
	}, []string{"tier"})

	// CacheErrors counts remote cache errors that degraded to misses.
	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocklab_cache_errors_total",
		Help: "Remote cache errors degraded to misses",
	})

	// FactorComputeSeconds observes per-date factor table computation time.
	FactorComputeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocklab_factor_compute_seconds",
		Help:    "Factor table computation time per calc date",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"backend"})

	// BacktestSeconds observes end-to-end backtest duration by outcome.
	BacktestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocklab_backtest_seconds",
		Help:    "End-to-end backtest duration",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"status"})

	// LiveOrders counts live order submissions by side and outcome.
	LiveOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklab_live_orders_total",
		Help: "Live order submissions by side and outcome",
	}, []string{"side", "outcome"})

	// StreamEventsDropped counts progress events dropped for slow consumers.
	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocklab_stream_events_dropped_total",
		Help: "Progress events dropped for slow subscribers",
	})
)
