package monitor

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Kind identifies a monitor lifecycle state.
type Kind int

const (
	KindCheckingStatus Kind = iota
	KindApproving
	KindSuspended
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindCheckingStatus:
		return "checking"
	case KindApproving:
		return "approving"
	case KindSuspended:
		return "suspended"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Action is an external signal a consumer may forward to the current state.
type Action int

const (
	ActionWake Action = iota + 1
	ActionRetry
)

// State is one lifecycle event. Exactly one of CheckingStatus, Approving,
// Suspended or Error.
type State interface {
	Kind() Kind
	String() string
	// Respond forwards a to the state's response handle if the state accepts
	// that action. It reports whether the signal was delivered.
	Respond(a Action) bool
	// Release drops the state's response handle without using it.
	Release()
}

// CheckingStatus is emitted before each status query.
type CheckingStatus struct{}

func (CheckingStatus) Kind() Kind { return KindCheckingStatus }
func (CheckingStatus) String() string { return "Checking status" }
func (CheckingStatus) Respond(Action) bool { return false }
func (CheckingStatus) Release() {}

// Approving is emitted before approving an inactive system address.
type Approving struct {
	IP netip.Addr
}

func (Approving) Kind() Kind { return KindApproving }
func (s Approving) String() string { return fmt.Sprintf("Approving IP %s", s.IP) }
func (Approving) Respond(Action) bool { return false }
func (Approving) Release() {}

// Suspended is emitted while the monitor sleeps. Firing Wake ends the sleep
// early.
type Suspended struct {
	Duration time.Duration
	Wake     *Signal
}

func (Suspended) Kind() Kind { return KindSuspended }
func (s Suspended) String() string { return fmt.Sprintf("Suspended for %s", s.Duration) }

func (s Suspended) Respond(a Action) bool {
	if a != ActionWake {
		return false
	}
	return s.Wake.Fire()
}

func (s Suspended) Release() { s.Wake.Drop() }

// Error is emitted when an iteration fails. The monitor blocks until Retry
// is fired.
type Error struct {
	Cause error
	Retry *Signal
}

func (Error) Kind() Kind { return KindError }
func (s Error) String() string { return s.Cause.Error() }

func (s Error) Respond(a Action) bool {
	if a != ActionRetry {
		return false
	}
	return s.Retry.Fire()
}

func (s Error) Release() { s.Retry.Drop() }

// Signal is a single-use response handle. The first Fire or Drop disposes
// it; later calls have no effect.
type Signal struct {
	once sync.Once
	ch   chan bool
}

// NewSignal creates an unused handle.
func NewSignal() *Signal {
	return &Signal{ch: make(chan bool, 1)}
}

// Fire delivers the signal. It reports whether this call disposed the handle.
func (s *Signal) Fire() bool {
	return s.dispose(true)
}

// Drop abandons the handle without signalling.
func (s *Signal) Drop() bool {
	return s.dispose(false)
}

func (s *Signal) dispose(fired bool) bool {
	disposed := false
	s.once.Do(func() {
		s.ch <- fired
		disposed = true
	})
	return disposed
}

// received yields true once fired or false once dropped.
func (s *Signal) received() <-chan bool {
	return s.ch
}
