package gateway

import (
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/model"
)

// uriPattern matches a catch-all "/{service}/{event}{tail}" request target.
// Applied to the full request-target (path + query), mirroring the
// original's regex applied to req.uri().
var uriPattern = regexp.MustCompile(`^/([^/]*)/([^/?]*)(.*)$`)

const (
	headerCocaineService = "X-Cocaine-Service"
	headerCocaineEvent   = "X-Cocaine-Event"
	headerTracingPolicy  = "X-Tracing-Policy"
	headerPoweredBy      = "X-Powered-By"
	headerCocaineApp     = "X-Cocaine-App"
	headerRequestID      = "X-Request-Id"

	poweredByValue = "vicodyn"
)

// AppRoute extracts (service, event, uri) from an inbound HTTP request,
// builds and dispatches the backend invocation through the safe-retry state
// machine, and writes the resulting Response back to the client. It
// implements http.Handler; requests whose URI does not match the route are
// forwarded to Next.
type AppRoute struct {
	Dispatcher     model.EventDispatcher
	TracingHeader  string
	HeadersMapping map[string]string
	RetryLimit     int
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	// ConnTracker, if set, is notified of every response's final status.
	ConnTracker ResponseRecorder
	// Next handles requests that do not match the route (Match::None).
	// Defaults to a 404 if nil.
	Next http.Handler
}

func (a *AppRoute) tracingHeader() string {
	if a.TracingHeader == "" {
		return headerRequestID
	}
	return a.TracingHeader
}

func (a *AppRoute) retryLimit() int {
	if a.RetryLimit <= 0 {
		return 3
	}
	return a.RetryLimit
}

// extractParams implements spec.md §4.1's parameter extraction, in order:
// explicit X-Cocaine-Service/X-Cocaine-Event headers, then the catch-all
// URI regex. ok=false with err=nil means "no match" (Match::None).
func extractParams(r *http.Request) (service, event, uri string, ok bool, gwErr *model.GatewayError) {
	svcHeader := r.Header.Get(headerCocaineService)
	evtHeader := r.Header.Get(headerCocaineEvent)

	svcPresent := len(r.Header.Values(headerCocaineService)) > 0
	evtPresent := len(r.Header.Values(headerCocaineEvent)) > 0

	switch {
	case svcPresent && evtPresent:
		return svcHeader, evtHeader, r.URL.RequestURI(), true, nil
	case svcPresent != evtPresent:
		return "", "", "", false, model.NewIncompleteHeadersMatch()
	}

	m := uriPattern.FindStringSubmatch(r.URL.RequestURI())
	if m == nil {
		return "", "", "", false, nil
	}
	tail := m[3]
	if !strings.HasPrefix(tail, "/") {
		tail = "/" + tail
	}
	return m[1], m[2], tail, true, nil
}

// ServeHTTP implements spec.md §4.1 end to end.
func (a *AppRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service, event, uri, matched, gwErr := extractParams(r)
	if !matched && gwErr == nil {
		if a.Next != nil {
			a.Next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}
	if gwErr != nil {
		writeGatewayError(w, gwErr)
		return
	}

	logEntry := newAccessLog(r, service, event, a.ConnTracker)

	tracingHeader := a.tracingHeader()
	// A header present with an empty value is a malformed trace id, not an
	// absent one — r.Header.Values distinguishes the two where Get (which
	// returns "" for both) cannot.
	headerPresent := len(r.Header.Values(tracingHeader)) > 0
	trace, ok := resolveTrace(r.Header.Get(tracingHeader), headerPresent)
	if !ok {
		gwErr := model.NewInvalidRequestIDHeader(tracingHeader)
		logEntry.commit(http.StatusInternalServerError, 0, gwErr)
		writeGatewayError(w, gwErr)
		return
	}
	policy := parseTracingPolicy(r.Header.Get(headerTracingPolicy))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		gwErr := model.NewInvalidBodyRead(err)
		logEntry.commit(http.StatusInternalServerError, 0, gwErr)
		writeGatewayError(w, gwErr)
		return
	}

	req := &model.AppRequest{
		Service: service,
		Event:   event,
		Trace:   trace.trace,
		Frame: model.RequestMeta{
			Method:  r.Method,
			URI:     uri,
			Version: httpVersionString(r),
			Headers: flattenHeaders(r.Header),
			Body:    body,
		},
	}

	callHeaders := mapHeaders(a.HeadersMapping, r.Header)

	sm := &retryStateMachine{
		request:     req,
		dispatcher:  a.Dispatcher,
		limit:       a.retryLimit(),
		callHeaders: callHeaders,
		parent:      trace.parent,
		policy:      policy,
		logger:      observability.RequestLogger(r.Context(), a.Logger, req),
		metrics:     a.Metrics,
	}

	resp, gwErr := sm.run(r.Context())
	if gwErr != nil {
		logEntry.commit(http.StatusInternalServerError, 0, gwErr)
		writeGatewayError(w, gwErr)
		return
	}

	resp.AddHeader(headerPoweredBy, poweredByValue)
	resp.AddHeader(headerCocaineApp, service)
	writeResponse(w, resp)
	logEntry.commit(resp.Status, len(resp.Body), nil)
}

func httpVersionString(r *http.Request) string {
	if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
		return "1.0"
	}
	return "1.1"
}

func flattenHeaders(h http.Header) []model.Header {
	out := make([]model.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, model.Header{Name: name, Value: v})
		}
	}
	return out
}

// mapHeaders rewrites request headers into backend call headers per the
// configured mapping. Multiple values for the same HTTP header are
// concatenated byte-for-byte, in order, into a single backend header value.
func mapHeaders(mapping map[string]string, h http.Header) []model.Header {
	if len(mapping) == 0 {
		return nil
	}
	out := make([]model.Header, 0, len(mapping))
	for httpName, backendName := range mapping {
		values := h.Values(httpName)
		if len(values) == 0 {
			continue
		}
		var sb strings.Builder
		for _, v := range values {
			sb.WriteString(v)
		}
		out = append(out, model.Header{Name: backendName, Value: sb.String()})
	}
	return out
}

func writeResponse(w http.ResponseWriter, resp *model.Response) {
	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func writeGatewayError(w http.ResponseWriter, err *model.GatewayError) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(err.Status())
	_, _ = w.Write([]byte(err.Error()))
}
