package pool

import (
	"context"
	"fmt"
	"net"

	"github.com/pitabwire/vicodyn/internal/wire"
	"github.com/pitabwire/vicodyn/model"
)

// DemoGeobaseService is a synthetic model.Service standing in for the real
// geobase backend the perf route and example traffic dispatch to in local
// development: it never opens a network connection, it just replies
// in-process with a fixed/derived value so the gateway's own request path
// is exercisable without any external service running.
type DemoGeobaseService struct{}

// NewDemoGeobaseService returns the demo geobase Service.
func NewDemoGeobaseService() model.Service {
	return DemoGeobaseService{}
}

// Call implements model.Service. method is always 0 in this repository —
// both AppRoute and PerfRoute open every call through the "invoke" method
// id, passing either the request's event name (AppRoute) or the fixed
// benchmark IP argument (PerfRoute) as the single enqueue argument — so the
// reply shape cannot be keyed off method at all. Instead, a lone argument
// that parses as an IP address is treated as PerfRoute's lookup and gets a
// bare primitive int64 reply, matching wire.DecodePrimitiveInt64's expected
// shape; anything else gets a normal ResponseMeta envelope and a small text
// body, so AppRoute's general-purpose path has something to show locally.
func (DemoGeobaseService) Call(_ context.Context, method uint64, args []any, _ []model.Header) (model.Call, <-chan model.Frame, error) {
	ch := make(chan model.Frame, 3)

	if ip, ok := soleIPArg(args); ok {
		payload, err := wire.EncodePrimitiveInt64(geoIDFor(ip))
		if err != nil {
			ch <- model.Frame{Kind: model.FrameError, Err: &model.ServiceError{Message: err.Error()}}
			close(ch)
			return demoCall{}, ch, nil
		}
		ch <- model.Frame{Kind: model.FrameData, Payload: payload}
		ch <- model.Frame{Kind: model.FrameClose}
		close(ch)
		return demoCall{}, ch, nil
	}

	body := fmt.Sprintf("demo geobase reply for method %d, %d arg(s)", method, len(args))
	meta := model.ResponseMeta{Code: 200, Headers: []model.Header{{Name: "Content-Type", Value: "text/plain"}}}
	metaPayload, err := wire.EncodeResponseMeta(meta)
	if err != nil {
		ch <- model.Frame{Kind: model.FrameError, Err: &model.ServiceError{Message: err.Error()}}
		close(ch)
		return demoCall{}, ch, nil
	}
	ch <- model.Frame{Kind: model.FrameData, Payload: metaPayload}
	ch <- model.Frame{Kind: model.FrameData, Payload: []byte(body)}
	ch <- model.Frame{Kind: model.FrameClose}
	close(ch)
	return demoCall{}, ch, nil
}

// demoCall is a no-op Call: the demo service replies synchronously within
// Call itself, so Send is never invoked by the dispatch path.
type demoCall struct{}

func (demoCall) Send(context.Context, uint64, []any) error { return nil }

// soleIPArg reports whether args is exactly one string that parses as an IP
// address, the shape PerfRoute's fixed benchmark call always uses.
func soleIPArg(args []any) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	s, ok := args[0].(string)
	if !ok || net.ParseIP(s) == nil {
		return "", false
	}
	return s, true
}

// geoIDFor derives a stable, deterministic integer from an IP string so
// repeated perf-route demo calls are reproducible without a real geobase
// lookup table.
func geoIDFor(ip string) int64 {
	var h int64 = 5381
	for _, c := range ip {
		h = ((h << 5) + h) + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
