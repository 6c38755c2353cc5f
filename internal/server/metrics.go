package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical endpoint name rather than
// raw path, so session IDs never become label values.
const labelHandler = "handler"

// serverMetrics holds the Prometheus collectors owned by the HTTP server.
type serverMetrics struct {
	// turnsTotal counts conversational turns by outcome: ok, timeout, canceled
	// or error.
	turnsTotal *prometheus.CounterVec

	// turnDurationSeconds records end-to-end turn latency, retrieval included.
	turnDurationSeconds *prometheus.HistogramVec

	// leadsSavedTotal counts leads stored by the save_lead tool.
	leadsSavedTotal prometheus.Counter

	// httpRequestsTotal counts requests by method, handler and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds observes request latency by handler.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers the server metrics against reg. activeSessions
// backs the zudu_sessions_active gauge.
func newServerMetrics(reg prometheus.Registerer, activeSessions func() int) *serverMetrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "zudu",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of voice sessions held in memory.",
	}, func() float64 { return float64(activeSessions()) })

	return &serverMetrics{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "turns",
			Name:      "total",
			Help:      "Conversational turns completed, partitioned by outcome.",
		}, []string{"outcome"}),

		turnDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zudu",
			Subsystem: "turns",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of conversational turns.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"outcome"}),

		leadsSavedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "leads",
			Name:      "saved_total",
			Help:      "Leads captured and stored.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zudu",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, partitioned by method, handler and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zudu",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for next under name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
