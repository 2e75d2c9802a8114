// Package metrics provides Prometheus instrumentation for the trade engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EntriesProcessed counts stream entries applied and acknowledged.
	EntriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_stream_entries_processed_total",
		Help: "Stream entries processed and acknowledged",
	}, []string{"stream"})

	// EntriesFailed counts entries that failed processing, partitioned by
	// failure class ("domain" or "transient").
	EntriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_stream_entries_failed_total",
		Help: "Stream entries that failed processing",
	}, []string{"stream", "class"})

	// TradesOpened counts positions opened, partitioned by side.
	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_opened_total",
		Help: "Positions opened",
	}, []string{"side"})

	// TradesClosed counts positions closed.
	TradesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_trades_closed_total",
		Help: "Positions closed",
	})

	// OpenOrders tracks the number of currently open positions.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_open_orders",
		Help: "Number of currently open positions",
	})

	// SnapshotsTotal counts snapshot persistence attempts by outcome.
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_snapshots_total",
		Help: "Snapshot persistence attempts",
	}, []string{"outcome"})

	// SnapshotDuration tracks how long capturing and persisting a snapshot takes.
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_snapshot_duration_seconds",
		Help:    "Snapshot capture and persist duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts read-surface HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Raw path is fine as a label; the read surface has a handful of
		// routes so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
