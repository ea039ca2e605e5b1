package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the gateway.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Dispatcher outcome metrics
	DispatcherOutcomesTotal *prometheus.CounterVec
	DispatcherTimeoutsTotal *prometheus.CounterVec

	// Pool metrics
	PoolConnectionsActive *prometheus.GaugeVec
	PoolWorkersTotal      prometheus.Gauge

	// Rate limiter metrics
	RateLimitRejectionsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicodyn_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicodyn_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicodyn_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_backend_requests_total",
			Help: "Total number of requests dispatched to pool services.",
		}, []string{"service", "event", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicodyn_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds, from dispatch to final frame.",
			Buckets: backendDurationBuckets,
		}, []string{"service"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vicodyn_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_backend_retries_total",
			Help: "Total number of safe retries issued after a queue-full error.",
		}, []string{"service", "event"}),

		DispatcherOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_dispatcher_outcomes_total",
			Help: "Total response dispatcher outcomes by terminal frame kind.",
		}, []string{"outcome"}),
		DispatcherTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_dispatcher_timeouts_total",
			Help: "Total requests that hit the timeout middleware deadline.",
		}, []string{"service"}),

		PoolConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vicodyn_pool_connections_active",
			Help: "Active pool connections per service.",
		}, []string{"service"}),
		PoolWorkersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vicodyn_pool_workers_total",
			Help: "Number of worker executors configured.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicodyn_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter.",
		}, []string{"service"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.DispatcherOutcomesTotal,
		m.DispatcherTimeoutsTotal,
		m.PoolConnectionsActive,
		m.PoolWorkersTotal,
		m.RateLimitRejectionsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a completed pool invocation.
func (m *Metrics) RecordBackendRequest(service, event string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(service, event, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(service string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(service).Set(state)
}

// RecordBackendRetry records a safe retry issued by the retry state machine.
func (m *Metrics) RecordBackendRetry(service, event string) {
	m.BackendRetriesTotal.WithLabelValues(service, event).Inc()
}

// RecordDispatcherOutcome records the terminal frame kind a dispatch run
// ended on: "data", "close", "error", "discard", or "retry".
func (m *Metrics) RecordDispatcherOutcome(outcome string) {
	m.DispatcherOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatcherTimeout records a request that exceeded its deadline.
func (m *Metrics) RecordDispatcherTimeout(service string) {
	m.DispatcherTimeoutsTotal.WithLabelValues(service).Inc()
}

// SetPoolConnectionsActive sets the number of active pool connections for a
// service.
func (m *Metrics) SetPoolConnectionsActive(service string, count float64) {
	m.PoolConnectionsActive.WithLabelValues(service).Set(count)
}

// SetPoolWorkersTotal sets the configured worker count.
func (m *Metrics) SetPoolWorkersTotal(count float64) {
	m.PoolWorkersTotal.Set(count)
}

// RecordRateLimitRejection records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitRejection(service string) {
	m.RateLimitRejectionsTotal.WithLabelValues(service).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
