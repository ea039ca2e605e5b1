package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyFromRequest extracts the rate-limit key the same way AppRoute extracts
// the service name: explicit X-Cocaine-Service header first, then the
// catch-all "/{service}/..." URI shape. It deliberately does not import
// internal/gateway to avoid a dependency cycle (gateway has no reason to
// depend on ratelimit); the two extraction rules are kept in sync by hand.
func keyFromRequest(r *http.Request) string {
	if svc := r.Header.Get("X-Cocaine-Service"); svc != "" {
		return svc
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// Middleware returns HTTP middleware that rejects requests over the limit
// with 429 Too Many Requests. A nil limiter disables the middleware.
func Middleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFromRequest(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open: a rate limiter outage should not take down the
				// gateway's own availability.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("429 rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedisHealthChecker adapts a redis.Cmdable to observability.HealthChecker
// for the readiness endpoint's optional rate-limit-backend check.
type RedisHealthChecker struct {
	Client redis.Cmdable
}

// HealthCheck pings the Redis backend.
func (h RedisHealthChecker) HealthCheck(ctx context.Context) error {
	return h.Client.Ping(ctx).Err()
}

// NewClient builds a go-redis client from an address, matching the shape
// config.RateLimitConfig.RedisAddr names.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
}
