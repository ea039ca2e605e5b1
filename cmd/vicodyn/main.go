// Package main is the entry point for the vicodyn gateway server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/internal/config"
	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/internal/pool"
	"github.com/pitabwire/vicodyn/internal/ratelimit"
	"github.com/pitabwire/vicodyn/internal/transport"
	"github.com/pitabwire/vicodyn/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "vicodyn", version)
	if err != nil {
		logger.Fatal("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the pool's reference dispatcher and service resolver.
	// internal/pool is the reference implementation named in the gateway's
	// model.EventDispatcher contract; a production deployment supplies its
	// own connection-discovery pool here instead.
	resolver := pool.NewStaticResolver()
	registerDemoServices(resolver)

	workerCount := runtime.NumCPU()
	dispatcher := pool.NewReferenceDispatcher(workerCount, 64, resolver, logger)
	dispatcher.Start(ctx)

	connTracker := pool.NewConnectionTracker(logger)

	// Step 5: Build the rate limiter, if enabled.
	var limiter ratelimit.Limiter
	var rateLimitChecker observability.HealthChecker
	if cfg.RateLimit.Enabled {
		client := ratelimit.NewClient(cfg.RateLimit.RedisAddr)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("rate limit backend unreachable at startup, continuing", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.Burst, cfg.RateLimit.Window)
		rateLimitChecker = ratelimit.RedisHealthChecker{Client: client}
	}

	// Step 6: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		PoolReady:        func() bool { return resolver.Ready() },
		RateLimitBackend: rateLimitChecker,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readinessChecks),
		MetricsHandler: observability.Handler(),
		RateLimiter:    ratelimit.Middleware(limiter),
		ConnTracker:    connTracker,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ConnState:    connTracker.ConnState,
	}

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workers", workerCount),
		zap.Strings("services", resolver.Names()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete",
		zap.Int64("connections_accepted", connTracker.Accepted()),
		zap.Int64("responses_5xx", connTracker.Errors5xx()),
	)
	return 0
}

// registerDemoServices registers the in-process geobase stand-in the perf
// route calls. Production deployments replace StaticResolver with a
// resolver backed by real service discovery and never reach this path.
func registerDemoServices(resolver *pool.StaticResolver) {
	resolver.Register("geobase", pool.NewDemoGeobaseService(), model.Settings{})
}
