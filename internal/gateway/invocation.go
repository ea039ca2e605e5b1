package gateway

import (
	"context"

	"github.com/pitabwire/vicodyn/internal/wire"
	"github.com/pitabwire/vicodyn/model"
)

const (
	methodOpenPayload = 0
	methodStreamClose = 2
)

// runInvocation implements spec.md §4.3's Invocation: it is the Func a
// retryStateMachine attempt hands to the pool. Once the pool has selected a
// connected Service instance, this opens the call, spawns the Response
// Dispatcher to consume its frame channel, and streams the payload and
// close frames. Send failures are intentionally ignored — the dispatcher
// reports them asynchronously via the call's own frame channel, matching
// the backend protocol's fire-and-forget send semantics.
func runInvocation(ctx context.Context, svc model.Service, req *model.AppRequest, headers []model.Header, reply chan<- dispatchResult) error {
	call, frames, err := svc.Call(ctx, methodOpenPayload, []any{req.Event}, headers)
	if err != nil {
		reply <- dispatchResult{response: decodeErrorResponse(req.Trace, err)}
		return nil
	}

	go func() {
		resp, retry := consumeResponse(frames, req.Frame.Method, req.Trace)
		reply <- dispatchResult{response: resp, retry: retry}
	}()

	payload, encErr := wire.EncodeRequestMeta(req.Frame)
	if encErr == nil {
		_ = call.Send(ctx, methodOpenPayload, []any{payload})
	}
	_ = call.Send(ctx, methodStreamClose, nil)

	return nil
}
