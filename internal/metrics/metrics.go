// Package metrics provides Prometheus instrumentation for dispatchd.
//
// The metrics are created with promauto, so they register with the default
// Prometheus registry when the package is initialized; the HTTP router
// mounts Handler() at GET /metrics. All metric names are namespaced
// dispatch_*.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Gauges ──────────────────────────────────────────────────────────────────

// QueueDepth is the number of jobs currently in the pending state.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dispatch_queue_depth",
	Help: "Number of jobs currently pending.",
})

// ── Counters ──────────────────────────────────────────────────────────────────

// JobsTotal counts jobs reaching a terminal state, by plugin and outcome.
var JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_jobs_total",
	Help: "Jobs that reached a terminal state, by plugin and outcome.",
}, []string{"plugin", "outcome"})

// ClaimContention counts claim attempts that lost the race to another
// worker goroutine (always zero for a single worker; present for when the
// worker pool grows beyond one goroutine).
var ClaimContention = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dispatch_claim_contention_total",
	Help: "Claim attempts that found the target job already claimed.",
})

// HTTPRequests counts HTTP requests by method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// HTTPErrors counts HTTP responses with a 4xx/5xx status, by code.
var HTTPErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_http_errors_total",
	Help: "HTTP responses with a 4xx or 5xx status, by code.",
}, []string{"code"})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dispatch_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// ToolDuration tracks individual plugin tool-call latency.
var ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dispatch_tool_duration_seconds",
	Help:    "Plugin tool call latency in seconds.",
	Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"plugin", "tool"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps an HTTP handler to record request counts and latency.
// path should be a templated path (e.g. "/v1/job/{id}") not the raw URL.
func Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
		if rw.status >= 400 {
			HTTPErrors.WithLabelValues(status).Inc()
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Init registers all dispatchd metrics with the given registerer. Provided
// for tests, which should pass prometheus.NewRegistry() to avoid colliding
// with the global default registry across test binaries.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(
		QueueDepth,
		JobsTotal,
		ClaimContention,
		HTTPRequests,
		HTTPErrors,
		HTTPDuration,
		ToolDuration,
	)
}
