package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics shared by all handlers.
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

// Domain metrics. The authentication gateway is on the hot path of every
// request, so outcome counters are the cheapest way to see revocation and
// expiry patterns without logging every check.
var (
	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication gateway outcomes by result.",
		},
		[]string{"result"},
	)

	sessionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_registry_ops_total",
			Help: "Session registry operations by kind.",
		},
		[]string{"op"},
	)

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access control decisions by resolved level.",
		},
		[]string{"level"},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Account registrations by method and result.",
		},
		[]string{"method", "result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authOutcomes, sessionOps, accessDecisions, registrations,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts one authentication gateway outcome ("ok" or the error kind).
func ObserveAuth(result string) {
	authOutcomes.WithLabelValues(result).Inc()
}

// ObserveSessionOp counts one registry operation ("issue", "check", "revoke").
func ObserveSessionOp(op string) {
	sessionOps.WithLabelValues(op).Inc()
}

// ObserveAccessDecision counts one resolved permission level.
func ObserveAccessDecision(level string) {
	accessDecisions.WithLabelValues(level).Inc()
}

// ObserveRegistration counts one registration attempt.
func ObserveRegistration(method, result string) {
	registrations.WithLabelValues(method, result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
