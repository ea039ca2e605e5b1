// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Locators      []string            `yaml:"locators"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the HTTP acceptor's settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig describes the core request-handling options consumed by
// AppRoute, the retry state machine, and the timeout middleware.
type GatewayConfig struct {
	// TracingHeader is the HTTP header carrying the trace identifier.
	TracingHeader string `yaml:"tracing_header"`
	// HeadersMapping rewrites HTTP header names to backend header names;
	// only entries present here are forwarded to the backend.
	HeadersMapping map[string]string `yaml:"headers_mapping"`
	// RetryLimit bounds the number of attempts the safe-retry state
	// machine will make for a single request.
	RetryLimit int `yaml:"retry_limit"`
	// RequestTimeout is the deadline applied by the timeout middleware,
	// starting at the middleware boundary (covers all retries).
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PerfRouteEnabled mounts the fixed-event benchmark route at
	// /perf alongside the general-purpose AppRoute.
	PerfRouteEnabled bool `yaml:"perf_route_enabled"`
}

// RateLimitConfig describes the optional per-service request limiter. It has
// no equivalent in the core request path; it exists as an operational guard
// in front of AppRoute.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Window        time.Duration `yaml:"window"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			TracingHeader:  "X-Request-Id",
			HeadersMapping: map[string]string{},
			RetryLimit:     3,
			RequestTimeout: 25 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RatePerSecond: 50,
			Burst:         100,
			Window:        time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "stdout",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Gateway.RetryLimit < 1 {
		errs = append(errs, "gateway.retry_limit must be at least 1")
	}
	if c.Gateway.TracingHeader == "" {
		errs = append(errs, "gateway.tracing_header must not be empty")
	}
	if c.RateLimit.Enabled && c.RateLimit.RedisAddr == "" {
		errs = append(errs, "rate_limit.redis_addr is required when rate_limit.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads VICODYN_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VICODYN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VICODYN_GATEWAY_TRACING_HEADER"); v != "" {
		cfg.Gateway.TracingHeader = v
	}
	if v := os.Getenv("VICODYN_GATEWAY_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.RetryLimit = n
		}
	}
	if v := os.Getenv("VICODYN_GATEWAY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.RequestTimeout = d
		}
	}
	if v := os.Getenv("VICODYN_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("VICODYN_RATE_LIMIT_REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
}
