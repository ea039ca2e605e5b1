package gateway

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/internal/observability"
	"github.com/pitabwire/vicodyn/internal/wire"
	"github.com/pitabwire/vicodyn/model"
)

// retryStateMachine implements spec.md §4.2. It owns the parts of an
// attempt that must persist across retries: the trace/parent pair, the
// verbose latch, and the attempt counter. callHeaders is the base set of
// mapped backend headers shared by every attempt before TraceId/SpanId/
// ParentId/TraceBit/request_timeout are appended.
type retryStateMachine struct {
	request     *model.AppRequest
	dispatcher  model.EventDispatcher
	limit       int
	callHeaders []model.Header
	parent      uint64
	policy      tracingPolicy
	logger      *zap.Logger
	metrics     *observability.Metrics

	latch verboseLatch
}

// run drives attempts until the call completes, the retry limit is reached,
// or the context is canceled. The returned *model.GatewayError is non-nil
// only for Canceled — every other failure kind is rendered into the
// returned *model.Response instead (spec.md §7's propagation policy).
func (sm *retryStateMachine) run(ctx context.Context) (*model.Response, *model.GatewayError) {
	attempt := 1
	for {
		select {
		case <-ctx.Done():
			return nil, model.NewCanceled()
		default:
		}

		resp, retry, gwErr := sm.attempt(ctx, attempt)
		if gwErr != nil {
			return nil, gwErr
		}
		if !retry {
			return resp, nil
		}

		if sm.metrics != nil {
			sm.metrics.RecordBackendRetry(sm.request.Service, sm.request.Event)
		}

		if attempt >= sm.limit {
			return retryLimitResponse(sm.request.Trace), nil
		}
		attempt++
	}
}

// attempt runs exactly one invocation cycle and returns either a terminal
// Response (retry=false), a signal to retry (retry=true, resp=nil), or a
// Canceled error if the pool-side dispatch itself could not be completed.
func (sm *retryStateMachine) attempt(ctx context.Context, attemptNum int) (resp *model.Response, retry bool, gwErr *model.GatewayError) {
	span := randomUint64()
	manualVerbose := sm.policy.sample()

	headers := make([]model.Header, len(sm.callHeaders))
	copy(headers, sm.callHeaders)
	headers = append(headers,
		model.Header{Name: "TraceId", Value: strconv.FormatUint(sm.request.Trace, 10)},
		model.Header{Name: "SpanId", Value: strconv.FormatUint(span, 10)},
		model.Header{Name: "ParentId", Value: strconv.FormatUint(sm.parent, 10)},
	)

	reply := make(chan dispatchResult, 1)

	ev := model.Event{
		ServiceName: sm.request.Service,
		Context:     ctx,
		Fail: func(reason error) {
			if svcErr, ok := reason.(*model.ServiceError); ok {
				reply <- dispatchResult{response: discardResponse(sm.request.Trace, svcErr)}
				return
			}
			reply <- dispatchResult{response: decodeErrorResponse(sm.request.Trace, reason)}
		},
		Func: func(ctx context.Context, svc model.Service, settings model.Settings) error {
			if manualVerbose {
				settings.Verbose = true
			}
			if attemptNum == 1 {
				sm.latch.observe(settings.Verbose)
			}

			finalHeaders := headers
			if sm.latch.set || manualVerbose {
				finalHeaders = append(append([]model.Header{}, headers...), model.Header{Name: "TraceBit", Value: "true"})
			}
			if settings.Timeout != nil {
				d := time.Duration(*settings.Timeout * float64(time.Second))
				finalHeaders = append(finalHeaders, model.Header{
					Name:  "request_timeout",
					Value: string(wire.PackTimeout(d)),
				})
			}

			return runInvocation(ctx, svc, sm.request, finalHeaders, reply)
		},
	}

	if err := sm.dispatcher.Dispatch(ev); err != nil {
		return nil, false, model.NewCanceled()
	}

	select {
	case <-ctx.Done():
		return nil, false, model.NewCanceled()
	case res := <-reply:
		if res.retry {
			return nil, true, nil
		}
		return res.response, false, nil
	}
}

func retryLimitResponse(trace uint64) *model.Response {
	return responseFromError(trace, model.NewRetryLimitExceeded())
}
