package gateway

import (
	"errors"
	"strconv"
	"strings"

	"github.com/pitabwire/vicodyn/internal/wire"
	"github.com/pitabwire/vicodyn/model"
)

// dispatchResult is what a single attempt's frame consumer hands back to
// the retry state machine: either a terminal Response, or retry=true when
// the backend reported the safe-retriable queue-full condition.
type dispatchResult struct {
	response *model.Response
	retry    bool
}

// consumeResponse is the Response Dispatcher (spec.md §4.3): a pull-based
// consumer of one backend call's frames, producing exactly one terminal
// outcome. method is the original HTTP request method, used for the
// HEAD body-suppression rule.
func consumeResponse(frames <-chan model.Frame, method string, trace uint64) (resp *model.Response, retry bool) {
	var response *model.Response
	var body []byte
	haveMeta := false

	for frame := range frames {
		switch frame.Kind {
		case model.FrameData:
			if !haveMeta {
				meta, err := wire.DecodeResponseMeta(frame.Payload)
				if err != nil {
					return decodeErrorResponse(trace, err), false
				}
				response = &model.Response{Status: model.ClampStatus(meta.Code)}
				response.AddHeader(headerRequestID, strconv.FormatUint(trace, 10))
				for _, h := range meta.Headers {
					response.AddHeader(h.Name, h.Value)
				}
				body = make([]byte, 0, 64)
				haveMeta = true
				continue
			}
			body = append(body, frame.Payload...)

		case model.FrameClose:
			if !haveMeta {
				return closeBeforeMetaResponse(trace), false
			}
			finalizeBody(response, method, body)
			return response, false

		case model.FrameError:
			if frame.Err != nil && frame.Err.Category == 0x52ff && frame.Err.Code == 1 {
				return nil, true
			}
			return serviceErrorResponse(trace, frame.Err), false

		case model.FrameDiscard:
			return discardResponse(trace, frame.Err), false
		}
	}

	// Channel closed without a close/error/discard frame: treat as a discard.
	return discardResponse(trace, nil), false
}

// responseFromError renders a *model.GatewayError into the *model.Response
// shape consumeResponse's callers expect, attaching the request-id header
// every gateway-synthesized response carries. GatewayError is the single
// source of the kind→status/body mapping; this is the one place that turns
// it into an HTTP-shaped Response.
func responseFromError(trace uint64, gwErr *model.GatewayError) *model.Response {
	resp := &model.Response{
		Status: gwErr.Status(),
		Body:   []byte(gwErr.Error()),
	}
	resp.AddHeader(headerRequestID, strconv.FormatUint(trace, 10))
	return resp
}

func decodeErrorResponse(trace uint64, err error) *model.Response {
	return responseFromError(trace, model.NewBackendDecode(err))
}

func closeBeforeMetaResponse(trace uint64) *model.Response {
	return responseFromError(trace, model.NewBackendDecode(errors.New("received `close` event without prior meta info")))
}

// finalizeBody applies the RFC 2616 §4.4 body-inclusion table: HEAD, 204,
// 304, an empty buffer, or an explicit Content-Length: 0 all suppress the
// body and report size 0.
func finalizeBody(response *model.Response, method string, body []byte) {
	if strings.EqualFold(method, "HEAD") {
		return
	}
	switch response.Status {
	case 204, 304:
		return
	}
	if len(body) == 0 {
		return
	}
	if cl, ok := response.HeaderValue("Content-Length"); ok && cl == "0" {
		return
	}
	response.Body = body
}

func serviceErrorResponse(trace uint64, svcErr *model.ServiceError) *model.Response {
	category, code, message := serviceErrorFields(svcErr)
	resp := responseFromError(trace, model.NewBackendService(category, code, message, false))
	if svcErr != nil && svcErr.Category == 0x54ff {
		resp.AddHeader("X-Error-Generated-By", "vicodyn")
	}
	return resp
}

// discardResponse handles a call abandoned before a close frame arrived.
// Category 10, code 1 on discard maps to 503; every other discard maps to
// 500 (spec.md §4.3), via NewBackendService's discard=true branch.
func discardResponse(trace uint64, svcErr *model.ServiceError) *model.Response {
	category, code, message := serviceErrorFields(svcErr)
	return responseFromError(trace, model.NewBackendService(category, code, message, true))
}

func serviceErrorFields(svcErr *model.ServiceError) (category int32, code int64, message string) {
	if svcErr == nil {
		return 0, 0, ""
	}
	return svcErr.Category, svcErr.Code, svcErr.Message
}
