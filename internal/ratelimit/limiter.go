// Package ratelimit implements the optional per-service request limiter
// that sits in front of the gateway route. It has no equivalent in the
// core request path: AppRoute and the retry state machine never consult
// it directly, a middleware does, ahead of both.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a request for the given key (typically the
// service name extracted by AppRoute) may proceed.
type Limiter interface {
	// Allow reports whether a request identified by key is within its rate
	// limit. A true result also commits the request against the limit, so
	// callers must only call Allow once per request.
	Allow(ctx context.Context, key string) (bool, error)
}

// --- MemoryLimiter ---

// MemoryLimiter is an in-process token bucket per key. Suitable
// for testing and single-instance deployments; rate limits are not shared
// across replicas.
type MemoryLimiter struct {
	rate   float64
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemoryLimiter creates an in-memory token-bucket limiter. ratePerSecond
// is the sustained rate; burst is the bucket capacity.
func NewMemoryLimiter(ratePerSecond float64, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{
		rate:    ratePerSecond,
		burst:   burst,
		buckets: make(map[string]*memBucket),
	}
}

// Allow implements Limiter using a token bucket refilled at rate tokens
// per second, capped at burst.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &memBucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Len returns the number of distinct keys tracked. For testing.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// --- RedisLimiter ---

// windowIncrScript atomically increments the window counter and sets its
// expiry only on the first increment, so a key that outlives its window
// naturally resets instead of growing its TTL on every hit.
const windowIncrScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

// RedisLimiter is a fixed-window counter backed by Redis, shared across all
// gateway replicas. One key per (service, window) pair.
type RedisLimiter struct {
	client redis.Cmdable
	burst  int
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter. burst is the
// maximum number of requests allowed per key within window.
func NewRedisLimiter(client redis.Cmdable, burst int, window time.Duration) *RedisLimiter {
	if burst < 1 {
		burst = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{client: client, burst: burst, window: window}
}

// Allow implements Limiter by incrementing a per-window counter in Redis.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixNano()/l.window.Nanoseconds())
	count, err := l.client.Eval(ctx, windowIncrScript, []string{windowKey}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	return count <= int64(l.burst), nil
}
