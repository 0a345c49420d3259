package monitor

import (
	"context"
	"sync"
)

// Latest is a single overwritable slot. Readers always see the most recent
// value but are not guaranteed to see every intermediate one.
type Latest[T any] struct {
	mu      sync.RWMutex
	value   T
	set     bool
	version uint64
	changed chan struct{}
}

// NewLatest creates an empty slot.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{changed: make(chan struct{})}
}

// Store overwrites the slot and wakes every waiter.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.set = true
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Load returns the current value and whether one was ever stored.
func (l *Latest[T]) Load() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.set
}

// Version increments on every Store.
func (l *Latest[T]) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Changed is closed by the next Store.
func (l *Latest[T]) Changed() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.changed
}

// Wait blocks until the version moves past seen, then returns the current
// value and version.
func (l *Latest[T]) Wait(ctx context.Context, seen uint64) (T, uint64, error) {
	for {
		l.mu.RLock()
		v, version, changed := l.value, l.version, l.changed
		l.mu.RUnlock()
		if version > seen {
			return v, version, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, seen, ctx.Err()
		}
	}
}
