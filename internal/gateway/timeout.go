package gateway

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/model"
)

// TimeoutMiddleware implements spec.md §4.4. The deadline starts at the
// middleware boundary — before AppRoute even begins parameter extraction —
// so it covers the entire end-to-end request including every retry
// attempt. If the deadline fires first, the inner handler's write is
// discarded and a synthesized 504 is sent instead; the inner handler keeps
// running in its own goroutine until it finishes or notices ctx.Done(), at
// which point its buffered output is simply dropped.
func TimeoutMiddleware(d time.Duration, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &timeoutWriter{
				ResponseWriter: w,
				header:         make(http.Header),
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				tw.flush()
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				if metrics != nil {
					metrics.RecordDispatcherTimeout("")
				}
				gwErr := model.NewDeadline()
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(gwErr.Status())
				_, _ = w.Write([]byte(gwErr.Error()))
			}
		})
	}
}

// timeoutWriter buffers the inner handler's response until the race in
// TimeoutMiddleware resolves, so a late write never interleaves with (or
// follows) an already-sent timeout response.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	header      http.Header
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.code = code
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return len(b), nil
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.code = http.StatusOK
	}
	return tw.buf.Write(b)
}

// flush copies the buffered response to the real ResponseWriter. Called
// only on the "inner handler finished first" path.
func (tw *timeoutWriter) flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	dst := tw.ResponseWriter.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	if tw.wroteHeader {
		tw.ResponseWriter.WriteHeader(tw.code)
	}
	_, _ = tw.ResponseWriter.Write(tw.buf.Bytes())
}
