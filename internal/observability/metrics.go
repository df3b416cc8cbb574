// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Refresh metrics
	RefreshesTotal    *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
	RefreshesRejected prometheus.Counter

	// Fetch metrics
	PagesFetched    prometheus.Counter
	SwapsFetched    prometheus.Counter
	PartialFetches  prometheus.Counter
	UpstreamLatency prometheus.Histogram

	// Tier metrics
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CandlesMigrated prometheus.Counter
	SweepDuration   prometheus.Histogram

	// Gap metrics
	GapsDetected prometheus.Counter
	GapsFilled   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dexcharts"
	}

	return &Metrics{
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "refreshes_total",
			Help:      "Total number of series refreshes by outcome",
		}, []string{"outcome"}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Series refresh duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RefreshesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "rejected_total",
			Help:      "Total number of refresh attempts rejected by the per-token lock",
		}),

		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Total number of pages fetched from the indexing service",
		}),
		SwapsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "swaps_total",
			Help:      "Total number of swap records fetched",
		}),
		PartialFetches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "partial_total",
			Help:      "Total number of fetches truncated by limits or page errors",
		}),
		UpstreamLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "upstream_latency_seconds",
			Help:      "Indexing-service request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tier",
			Name:      "cache_hits_total",
			Help:      "Total number of hot-tier series hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tier",
			Name:      "cache_misses_total",
			Help:      "Total number of hot-tier series misses",
		}),
		CandlesMigrated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tier",
			Name:      "candles_migrated_total",
			Help:      "Total number of candles migrated from hot to durable tier",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tier",
			Name:      "sweep_duration_seconds",
			Help:      "Hot-to-durable sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		GapsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gaps",
			Name:      "detected_total",
			Help:      "Total number of series gaps detected",
		}),
		GapsFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gaps",
			Name:      "filled_total",
			Help:      "Total number of candles written by gap backfill",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
