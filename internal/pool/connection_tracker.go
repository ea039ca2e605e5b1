package pool

import (
	"net"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnectionTracker reproduces the original ProxyService's connection
// accounting (service/cocaine.rs): an active-connections gauge, an
// accepted-connections counter, and a 5xx-responses counter. It hooks into
// net/http.Server.ConnState rather than wrapping a net.Listener directly,
// since that is the idiomatic way to observe accept/close events in the
// standard library's server.
type ConnectionTracker struct {
	active    int64
	accepted  int64
	errors5xx int64
	logger    *zap.Logger
}

// NewConnectionTracker builds a tracker that logs accept/close events
// through logger (nil is fine; falls back to no-op logging).
func NewConnectionTracker(logger *zap.Logger) *ConnectionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionTracker{logger: logger}
}

// ConnState is installed as an http.Server's ConnState hook. It assigns
// each newly accepted connection a UUID purely for log correlation — the
// original logged the peer address instead, but a Unix-socket listener (the
// original also supported one) has no meaningful address, so a generated id
// covers both cases uniformly.
func (t *ConnectionTracker) ConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		atomic.AddInt64(&t.active, 1)
		atomic.AddInt64(&t.accepted, 1)
		t.logger.Info("accepted connection",
			zap.String("connection_id", uuid.NewString()),
			zap.String("remote_addr", safeRemoteAddr(conn)))
	case http.StateClosed, http.StateHijacked:
		atomic.AddInt64(&t.active, -1)
		t.logger.Info("closed connection", zap.String("remote_addr", safeRemoteAddr(conn)))
	}
}

func safeRemoteAddr(conn net.Conn) string {
	if conn == nil {
		return "unix"
	}
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unix"
}

// RecordResponse increments the 5xx counter when status is a server error.
// Called once per completed request from the gateway's access-logging path.
func (t *ConnectionTracker) RecordResponse(status int) {
	if status >= 500 {
		atomic.AddInt64(&t.errors5xx, 1)
	}
}

// Active returns the current number of open connections.
func (t *ConnectionTracker) Active() int64 { return atomic.LoadInt64(&t.active) }

// Accepted returns the lifetime count of accepted connections.
func (t *ConnectionTracker) Accepted() int64 { return atomic.LoadInt64(&t.accepted) }

// Errors5xx returns the lifetime count of 5xx responses observed.
func (t *ConnectionTracker) Errors5xx() int64 { return atomic.LoadInt64(&t.errors5xx) }
