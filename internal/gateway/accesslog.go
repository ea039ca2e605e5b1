package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/model"
)

// ResponseRecorder receives the final status of a committed access log
// entry. internal/pool.ConnectionTracker implements this to keep its 5xx
// counter accurate; it is defined here, not imported, so this package never
// depends on the pool's concrete type.
type ResponseRecorder interface {
	RecordResponse(status int)
}

// accessLog is constructed at invocation start and committed exactly once,
// mirroring the original's AccessLogger::new/commit pairing (app.rs).
type accessLog struct {
	logger  *zap.Logger
	method  string
	uri     string
	remote  string
	service string
	event   string
	start   time.Time
	done    bool
	tracker ResponseRecorder
}

func newAccessLog(r *http.Request, service, event string, tracker ResponseRecorder) *accessLog {
	return &accessLog{
		logger:  observability.LoggerFrom(r.Context(), zap.L()),
		method:  r.Method,
		uri:     r.URL.RequestURI(),
		remote:  r.RemoteAddr,
		service: service,
		event:   event,
		start:   time.Now(),
		tracker: tracker,
	}
}

// commit logs the access line exactly once and reports the final status to
// the connection tracker, if one was supplied. err is nil on success.
func (a *accessLog) commit(status int, bytesSent int, err *model.GatewayError) {
	if a.done {
		return
	}
	a.done = true

	if a.tracker != nil {
		a.tracker.RecordResponse(status)
	}

	fields := []zap.Field{
		zap.String("method", a.method),
		zap.String("uri", a.uri),
		zap.String("remote_addr", a.remote),
		zap.String("service", a.service),
		zap.String("event", a.event),
		zap.Int("status", status),
		zap.Int("bytes_sent", bytesSent),
		zap.Duration("duration", time.Since(a.start)),
	}
	if err != nil {
		fields = append(fields, zap.String("error", err.Error()))
		a.logger.Warn("access", fields...)
		return
	}
	a.logger.Info("access", fields...)
}
