package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pitabwire/vicodyn/internal/config"
	"github.com/pitabwire/vicodyn/internal/pool"
	"github.com/pitabwire/vicodyn/model"
)

// echoService replies with a bare 200 ResponseMeta and no body, mirroring
// the wire codec's on-wire shape directly rather than importing the
// gateway package's unexported test helpers.
type echoService struct{}

func (echoService) Call(context.Context, uint64, []any, []model.Header) (model.Call, <-chan model.Frame, error) {
	meta := struct {
		Code    int64       `msgpack:"code"`
		Headers [][2]string `msgpack:"headers"`
	}{Code: 200}
	data, err := msgpack.Marshal(&meta)
	if err != nil {
		panic(err)
	}
	ch := make(chan model.Frame, 2)
	ch <- model.Frame{Kind: model.FrameData, Payload: data}
	ch <- model.Frame{Kind: model.FrameClose}
	close(ch)
	return nil, ch, nil
}

func newTestDispatcher(t *testing.T) model.EventDispatcher {
	t.Helper()
	resolver := pool.NewStaticResolver()
	resolver.Register("geobase", echoService{}, model.Settings{})
	d := pool.NewReferenceDispatcher(1, 4, resolver, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	return d
}

func TestNewRouter_healthAndReadyBypassGateway(t *testing.T) {
	cfg := config.Defaults()
	r := NewRouter(Dependencies{
		Config:        cfg,
		Dispatcher:    newTestDispatcher(t),
		HealthHandler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		ReadyHandler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", rec.Code)
	}
}

func TestNewRouter_routesToGatewayCatchAll(t *testing.T) {
	cfg := config.Defaults()
	r := NewRouter(Dependencies{
		Config:     cfg,
		Dispatcher: newTestDispatcher(t),
	})

	req := httptest.NewRequest(http.MethodGet, "/geobase/lookup", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestNewRouter_perfRouteMountedWhenEnabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.PerfRouteEnabled = true
	r := NewRouter(Dependencies{
		Config:     cfg,
		Dispatcher: newTestDispatcher(t),
	})

	req := httptest.NewRequest(http.MethodGet, "/perf", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// echoService's frame is a ResponseMeta envelope, not the bare primitive
	// int64 the perf route expects; this only asserts the route is wired and
	// reachable, not the happy-path body.
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 (primitive decode failure)", rec.Code)
	}
}

func TestNewRouter_perfRouteAbsentWhenDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.PerfRouteEnabled = false
	r := NewRouter(Dependencies{
		Config:     cfg,
		Dispatcher: newTestDispatcher(t),
	})

	req := httptest.NewRequest(http.MethodGet, "/perf", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// With the perf route disabled, "/perf" reaches AppRoute, but a
	// single-segment path does not match the catch-all URI pattern and
	// AppRoute has no Next handler here, so the request ends in a 404.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (no catch-all match, no perf route)", rec.Code)
	}
}
