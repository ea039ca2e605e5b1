package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"vicodyn_http_requests_total",
		"vicodyn_http_request_duration_seconds",
		"vicodyn_http_request_size_bytes",
		"vicodyn_http_response_size_bytes",
		"vicodyn_backend_requests_total",
		"vicodyn_backend_request_duration_seconds",
		"vicodyn_backend_circuit_breaker_state",
		"vicodyn_backend_retries_total",
		"vicodyn_dispatcher_outcomes_total",
		"vicodyn_dispatcher_timeouts_total",
		"vicodyn_pool_connections_active",
		"vicodyn_pool_workers_total",
		"vicodyn_rate_limit_rejections_total",
	}

	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordBackendRequest("geobase", "lookup", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState("geobase", 0)
	m.RecordBackendRetry("geobase", "lookup")
	m.RecordDispatcherOutcome("data")
	m.RecordDispatcherTimeout("geobase")
	m.SetPoolConnectionsActive("geobase", 3)
	m.SetPoolWorkersTotal(4)
	m.RecordRateLimitRejection("geobase")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/*", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/*", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/perf", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/*", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/perf", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRequest("order-service", "createOrder", 201, 100*time.Millisecond)

	val := testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues("order-service", "createOrder", "201"))
	if val != 1 {
		t.Errorf("backend requests = %v, want 1", val)
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetBackendCircuitBreakerState("order-service", 0)
	val := testutil.ToFloat64(m.BackendCircuitBreakerState.WithLabelValues("order-service"))
	if val != 0 {
		t.Errorf("circuit breaker state = %v, want 0 (closed)", val)
	}

	m.SetBackendCircuitBreakerState("order-service", 2)
	val = testutil.ToFloat64(m.BackendCircuitBreakerState.WithLabelValues("order-service"))
	if val != 2 {
		t.Errorf("circuit breaker state = %v, want 2 (open)", val)
	}
}

func TestRecordBackendRetry(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRetry("order-service", "createOrder")
	m.RecordBackendRetry("order-service", "createOrder")
	val := testutil.ToFloat64(m.BackendRetriesTotal.WithLabelValues("order-service", "createOrder"))
	if val != 2 {
		t.Errorf("retries = %v, want 2", val)
	}
}

func TestRecordDispatcherOutcome(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDispatcherOutcome("data")
	m.RecordDispatcherOutcome("data")
	m.RecordDispatcherOutcome("discard")

	data := testutil.ToFloat64(m.DispatcherOutcomesTotal.WithLabelValues("data"))
	if data != 2 {
		t.Errorf("data outcomes = %v, want 2", data)
	}
	discard := testutil.ToFloat64(m.DispatcherOutcomesTotal.WithLabelValues("discard"))
	if discard != 1 {
		t.Errorf("discard outcomes = %v, want 1", discard)
	}
}

func TestRecordDispatcherTimeout(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDispatcherTimeout("geobase")
	val := testutil.ToFloat64(m.DispatcherTimeoutsTotal.WithLabelValues("geobase"))
	if val != 1 {
		t.Errorf("timeouts = %v, want 1", val)
	}
}

func TestSetPoolConnectionsActive(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetPoolConnectionsActive("geobase", 7)
	val := testutil.ToFloat64(m.PoolConnectionsActive.WithLabelValues("geobase"))
	if val != 7 {
		t.Errorf("active connections = %v, want 7", val)
	}
}

func TestSetPoolWorkersTotal(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetPoolWorkersTotal(8)
	val := testutil.ToFloat64(m.PoolWorkersTotal)
	if val != 8 {
		t.Errorf("workers total = %v, want 8", val)
	}
}

func TestRecordRateLimitRejection(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRateLimitRejection("geobase")
	m.RecordRateLimitRejection("geobase")
	val := testutil.ToFloat64(m.RateLimitRejectionsTotal.WithLabelValues("geobase"))
	if val != 2 {
		t.Errorf("rejections = %v, want 2", val)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/orders/{orderId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/perf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/perf", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/perf", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(backendDurationBuckets) != 9 {
		t.Errorf("backendDurationBuckets length = %d, want 9", len(backendDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
