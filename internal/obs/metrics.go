package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Envelope domain metrics.
var (
	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signato_audit_entries_total",
			Help: "Audit log entries appended, by event type.",
		},
		[]string{"type"},
	)

	signingActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signato_signing_actions_total",
			Help: "Signing actions processed, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	reauthOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signato_reauth_outcomes_total",
			Help: "2FA verification outcomes, by reason.",
		},
		[]string{"outcome", "reason"},
	)

	editorFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signato_editor_flushes_total",
			Help: "Debounced field batch flushes, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		auditEntriesTotal, signingActionsTotal, reauthOutcomesTotal,
		editorFlushesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountAuditEntry increments the per-type audit append counter.
func CountAuditEntry(eventType string) {
	auditEntriesTotal.WithLabelValues(eventType).Inc()
}

// CountSigningAction records one signing action outcome.
func CountSigningAction(action, outcome string) {
	signingActionsTotal.WithLabelValues(action, outcome).Inc()
}

// CountReauthOutcome records one 2FA verification outcome.
func CountReauthOutcome(outcome, reason string) {
	reauthOutcomesTotal.WithLabelValues(outcome, reason).Inc()
}

// CountEditorFlush records one debounced batch flush outcome.
func CountEditorFlush(outcome string) {
	editorFlushesTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
