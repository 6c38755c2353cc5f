package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results recorded on zudu_retrieval_lookups_total.
const (
	resultHit       = "hit"
	resultSharedHit = "shared_hit"
	resultMiss      = "miss"
	resultSkipped   = "skipped"
)

// Fallback reasons recorded on zudu_retrieval_fallbacks_total.
const (
	reasonEmpty    = "empty"
	reasonError    = "error"
	reasonTimeout  = "timeout"
	reasonCanceled = "canceled"
)

type cacheMetrics struct {
	// lookups counts Retrieve calls by result.
	lookups *prometheus.CounterVec
	// fallbacks counts fallback answers by reason.
	fallbacks *prometheus.CounterVec
	// evictions counts LRU evictions.
	evictions prometheus.Counter
	// entries is the current number of memoised queries.
	entries prometheus.Gauge
	// duration observes cache-miss lookup latency.
	duration prometheus.Histogram
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	f := promauto.With(reg)
	return &cacheMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "retrieval",
			Name:      "lookups_total",
			Help:      "Retrieval lookups by result (hit, shared_hit, miss, skipped).",
		}, []string{"result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Lookups answered with the no-context fallback, by reason.",
		}, []string{"reason"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "retrieval",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the local LRU cache.",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "zudu",
			Subsystem: "retrieval",
			Name:      "cache_entries",
			Help:      "Entries currently held in the local LRU cache.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zudu",
			Subsystem: "retrieval",
			Name:      "backend_duration_seconds",
			Help:      "Embed, search and fetch latency for cache misses.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
