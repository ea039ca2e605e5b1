package pool

import (
	"fmt"
	"sync"

	"github.com/pitabwire/vicodyn/model"
)

// ChannelFactory hands out one event-channel pair per worker, exactly once,
// from a mutex-guarded iterator. This mirrors the original's
// ProxyServiceFactoryFactory: the number of channel pairs is fixed at
// startup to the worker count, and each worker claims its pair the first
// time it needs one. Unlike the original's futures-mpsc channel, Go uses a
// single buffered chan model.Event per worker (no separate send/receive
// halves are needed once nothing but this package also holds the sender).
type ChannelFactory struct {
	mu      sync.Mutex
	queues  []chan model.Event
	claimed int
}

// NewChannelFactory preallocates workerCount channels, each buffered to
// queueDepth pending events.
func NewChannelFactory(workerCount, queueDepth int) *ChannelFactory {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	queues := make([]chan model.Event, workerCount)
	for i := range queues {
		queues[i] = make(chan model.Event, queueDepth)
	}
	return &ChannelFactory{queues: queues}
}

// Next claims the next unclaimed channel. It panics if called more times
// than the configured worker count, matching the original's "number of
// event channels must be exactly the same as the number of threads"
// invariant — a startup-time wiring bug, not a runtime condition to recover
// from.
func (f *ChannelFactory) Next() chan model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed >= len(f.queues) {
		panic(fmt.Sprintf("pool: channel factory exhausted after %d claims", f.claimed))
	}
	q := f.queues[f.claimed]
	f.claimed++
	return q
}

// Len returns the total number of channel pairs this factory was built
// with.
func (f *ChannelFactory) Len() int {
	return len(f.queues)
}
