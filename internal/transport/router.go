package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/internal/config"
	"github.com/pitabwire/vicodyn/internal/gateway"
	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config         *config.Config
	Dispatcher     model.EventDispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	HealthHandler  http.HandlerFunc
	ReadyHandler   http.HandlerFunc
	MetricsHandler http.Handler
	// RateLimiter, if set, wraps the gateway route and perf route only; it
	// never guards the health/ready/metrics surface.
	RateLimiter func(http.Handler) http.Handler
	// ConnTracker, if set, is notified of every gateway response's final
	// status (internal/pool.ConnectionTracker satisfies this).
	ConnTracker gateway.ResponseRecorder
}

// NewRouter creates a chi.Router with the full middleware pipeline and
// mounts the gateway catch-all route (and, if enabled, the fixed-event
// perf route) behind it. Health, readiness, and metrics endpoints bypass
// the gateway-specific middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	if deps.HealthHandler != nil {
		r.Get("/health", deps.HealthHandler)
	}
	if deps.ReadyHandler != nil {
		r.Get("/ready", deps.ReadyHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	appRoute := &gateway.AppRoute{
		Dispatcher:     deps.Dispatcher,
		TracingHeader:  deps.Config.Gateway.TracingHeader,
		HeadersMapping: deps.Config.Gateway.HeadersMapping,
		RetryLimit:     deps.Config.Gateway.RetryLimit,
		Metrics:        deps.Metrics,
		Logger:         logger,
		ConnTracker:    deps.ConnTracker,
	}

	var gatewayHandler http.Handler = appRoute
	if deps.Config.Gateway.PerfRouteEnabled {
		perfRoute := &gateway.PerfRoute{
			Dispatcher:  deps.Dispatcher,
			Metrics:     deps.Metrics,
			Logger:      logger,
			ConnTracker: deps.ConnTracker,
		}
		mux := chi.NewRouter()
		mux.Handle("/perf", perfRoute)
		appRoute.Next = http.NotFoundHandler()
		mux.Handle("/*", appRoute)
		gatewayHandler = mux
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(logger))
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(gateway.TimeoutMiddleware(deps.Config.Gateway.RequestTimeout, deps.Metrics))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter)
		}
		r.Handle("/*", gatewayHandler)
	})

	return r
}
