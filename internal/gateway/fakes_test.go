package gateway

import (
	"context"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pitabwire/vicodyn/model"
)

// fakeCall records frames sent on a single invocation. Tests do not usually
// assert on it directly; it exists so fakeService.Call satisfies
// model.Call.
type fakeCall struct {
	mu   sync.Mutex
	sent []fakeSend
}

type fakeSend struct {
	method uint64
	args   []any
}

func (c *fakeCall) Send(_ context.Context, method uint64, args []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, fakeSend{method: method, args: args})
	return nil
}

// fakeService is a scripted model.Service: each call to Call invokes script
// with the 0-based index of that call, letting a test vary behavior across
// retries. A nil script produces an immediately closed, empty channel.
type fakeService struct {
	mu     sync.Mutex
	calls  []fakeCallRecord
	script func(callIndex int) (chan model.Frame, error)
}

type fakeCallRecord struct {
	method  uint64
	args    []any
	headers []model.Header
}

func (s *fakeService) Call(_ context.Context, method uint64, args []any, headers []model.Header) (model.Call, <-chan model.Frame, error) {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, fakeCallRecord{method: method, args: args, headers: headers})
	s.mu.Unlock()

	if s.script == nil {
		ch := make(chan model.Frame)
		close(ch)
		return &fakeCall{}, ch, nil
	}
	ch, err := s.script(idx)
	if err != nil {
		return nil, nil, err
	}
	return &fakeCall{}, ch, nil
}

// fakeDispatcher runs an Event's Func synchronously against a scripted
// Service, simulating the pool without any real connection machinery.
// dispatchErr, when set, makes Dispatch fail without ever invoking Func.
type fakeDispatcher struct {
	service     *fakeService
	settings    model.Settings
	dispatchErr error
	attempts    int
}

func (d *fakeDispatcher) Dispatch(ev model.Event) error {
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.attempts++
	go func() {
		_ = ev.Func(context.Background(), d.service, d.settings)
	}()
	return nil
}

// responseMetaFrame builds the msgpack-encoded first data frame of a
// backend response, matching the wire codec's responseMetaWire shape.
func responseMetaFrame(code int64, headers [][2]string) model.Frame {
	w := struct {
		Code    int64       `msgpack:"code"`
		Headers [][2]string `msgpack:"headers"`
	}{Code: code, Headers: headers}
	data, err := msgpack.Marshal(&w)
	if err != nil {
		panic(err)
	}
	return model.Frame{Kind: model.FrameData, Payload: data}
}

func bodyFrame(b []byte) model.Frame {
	return model.Frame{Kind: model.FrameData, Payload: b}
}

func closeFrame() model.Frame {
	return model.Frame{Kind: model.FrameClose}
}

func errorFrame(category int32, code int64, message string) model.Frame {
	return model.Frame{Kind: model.FrameError, Err: &model.ServiceError{Category: category, Code: code, Message: message}}
}

func discardFrame(svcErr *model.ServiceError) model.Frame {
	return model.Frame{Kind: model.FrameDiscard, Err: svcErr}
}

// scriptedChannel returns a channel pre-loaded with frames, closed after the
// last one is sent.
func scriptedChannel(frames ...model.Frame) chan model.Frame {
	ch := make(chan model.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}
