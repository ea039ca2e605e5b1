package pool

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/model"
)

// Worker is one cooperative executor: it owns a single event channel and
// runs Events against whatever ServiceResolver the dispatcher was built
// with. Which worker receives an Event is decided per Dispatch call, so
// successive attempts of one request may run on different workers. Run
// blocks until ctx is canceled or the channel is closed.
type Worker struct {
	ID       int
	Queue    chan model.Event
	Resolver ServiceResolver
	Breakers *breakerRegistry
	Logger   *zap.Logger
}

// Run drains the worker's queue until ctx is done. Each Event is resolved
// against the current ServiceResolver and dispatched through that service's
// circuit breaker; a tripped breaker fails the event immediately without
// ever invoking Func, matching the pool's job of shielding a known-bad
// backend from further load.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Queue:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

// handle resolves ev against the current breaker/resolver state and invokes
// ev.Func. Whenever the event cannot reach Func at all — breaker open,
// resolve failure — it calls ev.Fail so the caller's reply channel is
// signaled promptly instead of blocking until its own deadline.
func (w *Worker) handle(ev model.Event) {
	breaker := w.Breakers.forService(ev.ServiceName)
	if err := breaker.Allow(); err != nil {
		if w.Logger != nil {
			w.Logger.Warn("pool: circuit open, dropping event",
				zap.Int("worker", w.ID), zap.String("service", ev.ServiceName))
		}
		if ev.Fail != nil {
			ev.Fail(err)
		}
		return
	}

	svc, settings, err := w.Resolver.Resolve(ev.ServiceName)
	if err != nil {
		breaker.RecordFailure()
		if w.Logger != nil {
			w.Logger.Warn("pool: resolve failed",
				zap.Int("worker", w.ID), zap.String("service", ev.ServiceName), zap.Error(err))
		}
		if ev.Fail != nil {
			ev.Fail(err)
		}
		return
	}

	ctx := ev.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ev.Func(ctx, svc, settings); err != nil {
		breaker.RecordFailure()
		if w.Logger != nil {
			w.Logger.Warn("pool: event handler failed",
				zap.Int("worker", w.ID), zap.String("service", ev.ServiceName), zap.Error(err))
		}
		return
	}
	breaker.RecordSuccess()
}
