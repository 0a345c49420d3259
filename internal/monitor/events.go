package monitor

import (
	"context"
	"sync"

	pkgerrors "netaccess/pkg/errors"
)

// DefaultEventsCapacity bounds the lifecycle queue.
const DefaultEventsCapacity = 8

// Events is the ordered, bounded lifecycle queue between one monitor run and
// its consumer. The producer blocks while the queue is full, so no state and
// no response handle is ever dropped.
type Events struct {
	ch   chan State
	done chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	mu    sync.Mutex
	bound bool
}

// NewEvents creates a queue holding up to capacity undelivered states.
func NewEvents(capacity int) *Events {
	if capacity <= 0 {
		capacity = DefaultEventsCapacity
	}
	return &Events{
		ch:   make(chan State, capacity),
		done: make(chan struct{}),
	}
}

// C yields states in emission order. It is closed when the monitor run ends.
func (e *Events) C() <-chan State {
	return e.ch
}

// Close tells the producer the consumer is gone. The monitor run ends at its
// next send or wait.
func (e *Events) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// Closed is closed once the consumer called Close.
func (e *Events) Closed() <-chan struct{} {
	return e.done
}

func (e *Events) send(ctx context.Context, s State) error {
	select {
	case <-e.done:
		return pkgerrors.ErrChannelClosed
	default:
	}
	select {
	case e.ch <- s:
		return nil
	case <-e.done:
		return pkgerrors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bind reserves the queue for a single run.
func (e *Events) bind() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound {
		return false
	}
	e.bound = true
	return true
}

// finish is called by the producer once it will never send again.
func (e *Events) finish() {
	e.finishOnce.Do(func() { close(e.ch) })
}
