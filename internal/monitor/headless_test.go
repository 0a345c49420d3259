package monitor

import (
	"errors"
	"testing"
	"time"

	"netaccess/internal/logging"
	pkgerrors "netaccess/pkg/errors"
)

func TestDrainReturnsCauseAndEndsRun(t *testing.T) {
	boom := errors.New("portal unreachable")
	p := &fakePortal{statusErr: boom}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))
	states := NewLatest[State]()

	done := make(chan error, 1)
	go func() { done <- Drain(events, states, logging.Discard()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Drain = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}

	waitDone(t, m)
	if !errors.Is(m.Err(), pkgerrors.ErrRetryAbandoned) {
		t.Errorf("monitor Err() = %v, want ErrRetryAbandoned", m.Err())
	}
	last, ok := states.Load()
	if !ok || last.Kind() != KindError {
		t.Errorf("last stored state = %v, want error", last)
	}
}

func TestDrainNeverWakes(t *testing.T) {
	p := &fakePortal{active: true}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))

	done := make(chan error, 1)
	go func() { done <- Drain(events, nil, logging.Discard()) }()

	// Give the consumer time to see Suspended; the monitor must keep sleeping.
	time.Sleep(50 * time.Millisecond)
	if got := p.statusCalls.Load(); got != 1 {
		t.Errorf("status calls = %d, want 1", got)
	}

	m.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Drain = %v after Stop, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after Stop")
	}
}
