package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vicodyn/model"
)

// breakerRegistry lazily creates one CircuitBreaker per service name,
// guarding backends independently of one another.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*CircuitBreaker)}
}

func (r *breakerRegistry) forService(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, 5, 2, 30*time.Second)
		r.breakers[name] = cb
	}
	return cb
}

// ReferenceDispatcher is the one in-process model.EventDispatcher this
// repository provides (spec.md §6, SPEC_FULL §6): it assigns each Dispatch
// call to a worker by round robin over a fixed ChannelFactory. Requests are
// not pinned to a worker: every Dispatch call, including a retry attempt of
// the same request, goes to the next worker in turn. It is explicitly not a production
// service-discovery pool — a real deployment wires its own
// EventDispatcher against a cocaine-style locator/resolver instead.
type ReferenceDispatcher struct {
	factory  *ChannelFactory
	resolver ServiceResolver
	breakers *breakerRegistry
	workers  []*Worker
	next     uint64
}

// NewReferenceDispatcher builds workerCount Workers, each claiming one
// channel pair from a freshly built ChannelFactory, and returns the
// dispatcher that fans Dispatch calls out across them. The workers do not
// run until Start is called; canceling Start's ctx stops every worker's Run
// loop.
func NewReferenceDispatcher(workerCount, queueDepth int, resolver ServiceResolver, logger *zap.Logger) *ReferenceDispatcher {
	factory := NewChannelFactory(workerCount, queueDepth)
	breakers := newBreakerRegistry()

	d := &ReferenceDispatcher{
		factory:  factory,
		resolver: resolver,
		breakers: breakers,
	}
	for i := 0; i < factory.Len(); i++ {
		d.workers = append(d.workers, &Worker{
			ID:       i,
			Queue:    factory.Next(),
			Resolver: resolver,
			Breakers: breakers,
			Logger:   logger,
		})
	}
	return d
}

// Start launches every worker's Run loop in its own goroutine. It returns
// immediately; the workers keep running until ctx is canceled.
func (d *ReferenceDispatcher) Start(ctx context.Context) {
	for _, w := range d.workers {
		go w.Run(ctx)
	}
}

// Dispatch posts ev onto the queue of the next worker in round-robin order.
// It returns an error if that worker's queue is full (queueDepth exceeded);
// the other workers' queues are not tried. That error is the backpressure
// signal the retry state machine surfaces as Canceled.
func (d *ReferenceDispatcher) Dispatch(ev model.Event) error {
	if len(d.workers) == 0 {
		return fmt.Errorf("pool: dispatcher has no workers")
	}
	idx := atomic.AddUint64(&d.next, 1) % uint64(len(d.workers))
	select {
	case d.workers[idx].Queue <- ev:
		return nil
	default:
		return fmt.Errorf("pool: worker %d queue full", idx)
	}
}

// WorkerCount reports how many workers this dispatcher started.
func (d *ReferenceDispatcher) WorkerCount() int {
	return len(d.workers)
}
