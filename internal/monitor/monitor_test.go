package monitor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netaccess/internal/portal"
	pkgerrors "netaccess/pkg/errors"
)

var selfIP = netip.MustParseAddr("10.21.0.7")

type fakePortal struct {
	mu         sync.Mutex
	active     bool
	statusErr  error
	approveErr error

	statusCalls  atomic.Int32
	approveCalls atomic.Int32
}

func (f *fakePortal) Status(ctx context.Context, user portal.User) (*portal.Status, error) {
	f.statusCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	conn := portal.NewConnection(0, false)
	if f.active {
		conn = portal.NewConnection(time.Hour, true)
	}
	return &portal.Status{
		System:      portal.SystemStatus{IP: selfIP, Connection: conn},
		Connections: map[netip.Addr]portal.Connection{},
	}, nil
}

func (f *fakePortal) Approve(ctx context.Context, user portal.User, tier portal.DurationTier, force bool) (netip.Addr, error) {
	f.approveCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return netip.Addr{}, f.approveErr
	}
	f.active = true
	return selfIP, nil
}

func (f *fakePortal) set(fn func(f *fakePortal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testConfig(suspend time.Duration) Config {
	return Config{
		User:    portal.NewUser("alice", "s3cret"),
		Tier:    portal.TierDay,
		Suspend: suspend,
	}
}

func startMonitor(t *testing.T, p Portal, cfg Config) (*Monitor, *Events, *Latest[portal.SystemStatus]) {
	t.Helper()
	m := New(p, nil)
	events := NewEvents(DefaultEventsCapacity)
	latest := NewLatest[portal.SystemStatus]()
	if err := m.Start(context.Background(), cfg, events, latest); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		events.Close()
		m.Stop()
	})
	return m, events, latest
}

func next(t *testing.T, events *Events) State {
	t.Helper()
	select {
	case s, ok := <-events.C():
		if !ok {
			t.Fatal("events closed unexpectedly")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
	}
	return nil
}

func expectKind(t *testing.T, events *Events, want Kind) State {
	t.Helper()
	s := next(t, events)
	if s.Kind() != want {
		t.Fatalf("got state %v (%s), want %v", s.Kind(), s, want)
	}
	return s
}

func waitDone(t *testing.T, m *Monitor) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit")
	}
}

func TestMonitorApprovesInactiveThenSuspends(t *testing.T) {
	p := &fakePortal{}
	_, events, latest := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	approving := expectKind(t, events, KindApproving).(Approving)
	if approving.IP != selfIP {
		t.Errorf("approving IP = %v, want %v", approving.IP, selfIP)
	}
	expectKind(t, events, KindCheckingStatus)
	suspended := expectKind(t, events, KindSuspended).(Suspended)
	if suspended.Duration != time.Hour {
		t.Errorf("suspend duration = %v", suspended.Duration)
	}

	got, ok := latest.Load()
	if !ok || got.IP != selfIP || !got.IsActive() {
		t.Errorf("latest = %+v, %v", got, ok)
	}
	if latest.Version() != 2 {
		t.Errorf("latest version = %d, want 2", latest.Version())
	}
	if n := p.approveCalls.Load(); n != 1 {
		t.Errorf("approve calls = %d, want 1", n)
	}
}

func TestMonitorWakeEndsSuspendEarly(t *testing.T) {
	p := &fakePortal{active: true}
	_, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	s := expectKind(t, events, KindSuspended)
	if s.Respond(ActionRetry) {
		t.Error("retry should not be accepted while suspended")
	}
	if !s.Respond(ActionWake) {
		t.Fatal("wake not delivered")
	}
	if s.Respond(ActionWake) {
		t.Error("second wake should be a no-op")
	}

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
	if n := p.statusCalls.Load(); n != 2 {
		t.Errorf("status calls = %d, want 2", n)
	}
}

func TestMonitorTimerElapses(t *testing.T) {
	p := &fakePortal{active: true}
	_, events, _ := startMonitor(t, p, testConfig(20*time.Millisecond))

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
}

func TestMonitorStaleWakeNotDelivered(t *testing.T) {
	p := &fakePortal{active: true}
	_, events, _ := startMonitor(t, p, testConfig(20*time.Millisecond))

	expectKind(t, events, KindCheckingStatus)
	first := expectKind(t, events, KindSuspended)
	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)

	calls := p.statusCalls.Load()
	if first.Respond(ActionWake) {
		t.Error("wake on an elapsed suspend was reported as delivered")
	}
	if n := p.statusCalls.Load(); n != calls {
		t.Errorf("status calls = %d after stale wake, want %d", n, calls)
	}
}

func TestMonitorStaleRetryNotDelivered(t *testing.T) {
	p := &fakePortal{statusErr: errors.New("portal down")}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	s := expectKind(t, events, KindError)
	m.Stop()

	if s.Respond(ActionRetry) {
		t.Error("retry after Stop was reported as delivered")
	}
}

func TestMonitorDroppedWakeWaitsForTimer(t *testing.T) {
	p := &fakePortal{active: true}
	_, events, _ := startMonitor(t, p, testConfig(50*time.Millisecond))

	expectKind(t, events, KindCheckingStatus)
	s := expectKind(t, events, KindSuspended)
	s.Release()

	time.Sleep(10 * time.Millisecond)
	if n := p.statusCalls.Load(); n != 1 {
		t.Fatalf("status calls = %d right after drop, want 1", n)
	}
	expectKind(t, events, KindCheckingStatus)
}

func TestMonitorErrorWaitsForRetry(t *testing.T) {
	p := &fakePortal{statusErr: pkgerrors.ErrInvalidCredentials}
	_, events, latest := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	s := expectKind(t, events, KindError).(Error)
	if !errors.Is(s.Cause, pkgerrors.ErrInvalidCredentials) {
		t.Errorf("cause = %v", s.Cause)
	}
	if _, ok := latest.Load(); ok {
		t.Error("latest should stay empty after a failed status query")
	}

	time.Sleep(50 * time.Millisecond)
	if n := p.statusCalls.Load(); n != 1 {
		t.Fatalf("status queried %d times before retry, want 1", n)
	}

	p.set(func(f *fakePortal) { f.statusErr = nil; f.active = true })
	if s.Respond(ActionWake) {
		t.Error("wake should not be accepted in error state")
	}
	if !s.Respond(ActionRetry) {
		t.Fatal("retry not delivered")
	}
	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
}

func TestMonitorApproveErrorReported(t *testing.T) {
	wantErr := &pkgerrors.UnexpectedPathError{Op: "approve", Path: "/elsewhere"}
	p := &fakePortal{approveErr: wantErr}
	_, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindApproving)
	s := expectKind(t, events, KindError).(Error)

	var pathErr *pkgerrors.UnexpectedPathError
	if !errors.As(s.Cause, &pathErr) {
		t.Errorf("cause = %v", s.Cause)
	}
}

func TestMonitorDroppedRetryEndsLoop(t *testing.T) {
	p := &fakePortal{statusErr: errors.New("boom")}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindError).Release()

	waitDone(t, m)
	if !errors.Is(m.Err(), pkgerrors.ErrRetryAbandoned) {
		t.Errorf("Err() = %v, want ErrRetryAbandoned", m.Err())
	}
	if _, ok := <-events.C(); ok {
		t.Error("events should be closed after the run ends")
	}
	if m.Running() {
		t.Error("monitor still running")
	}
}

func TestMonitorConsumerCloseEndsLoop(t *testing.T) {
	p := &fakePortal{active: true}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
	events.Close()

	waitDone(t, m)
	if !errors.Is(m.Err(), pkgerrors.ErrChannelClosed) {
		t.Errorf("Err() = %v, want ErrChannelClosed", m.Err())
	}
}

func TestMonitorStop(t *testing.T) {
	p := &fakePortal{active: true}
	m, events, _ := startMonitor(t, p, testConfig(time.Hour))

	expectKind(t, events, KindCheckingStatus)
	expectKind(t, events, KindSuspended)
	if !m.Running() {
		t.Fatal("monitor should be running")
	}

	m.Stop()
	if m.Running() {
		t.Error("monitor still running after Stop")
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v after Stop, want nil", m.Err())
	}
	m.Stop()
}

func TestMonitorStartWhileRunning(t *testing.T) {
	p := &fakePortal{active: true}
	m, events, latest := startMonitor(t, p, testConfig(time.Hour))
	runID := m.RunID()

	expectKind(t, events, KindCheckingStatus)
	other := NewEvents(1)
	if err := m.Start(context.Background(), testConfig(time.Hour), other, latest); err != nil {
		t.Errorf("second Start = %v, want nil", err)
	}
	select {
	case s := <-other.C():
		t.Errorf("second Start emitted %v on its own queue", s)
	default:
	}
	if m.RunID() != runID {
		t.Error("second Start replaced the running loop")
	}
	expectKind(t, events, KindSuspended)
}

func TestMonitorRestartAfterStop(t *testing.T) {
	p := &fakePortal{active: true}
	m, events, latest := startMonitor(t, p, testConfig(time.Hour))
	expectKind(t, events, KindCheckingStatus)
	m.Stop()

	if err := m.Start(context.Background(), testConfig(time.Hour), events, latest); err == nil {
		t.Error("reusing a bound events queue should fail")
	}

	fresh := NewEvents(DefaultEventsCapacity)
	if err := m.Start(context.Background(), testConfig(time.Hour), fresh, latest); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.Stop()
	expectKind(t, fresh, KindCheckingStatus)
}

func TestMonitorRejectsInvalidConfig(t *testing.T) {
	m := New(&fakePortal{}, nil)
	latest := NewLatest[portal.SystemStatus]()

	cfg := testConfig(0)
	if err := m.Start(context.Background(), cfg, NewEvents(1), latest); !errors.Is(err, pkgerrors.ErrSuspendTooShort) {
		t.Errorf("zero suspend: %v", err)
	}
	cfg = Config{Suspend: time.Minute}
	if err := m.Start(context.Background(), cfg, NewEvents(1), latest); !errors.Is(err, pkgerrors.ErrNoUsername) {
		t.Errorf("empty user: %v", err)
	}
	if m.Running() {
		t.Error("monitor should not be running")
	}
}

func TestMonitorParentContextCancel(t *testing.T) {
	p := &fakePortal{active: true}
	m := New(p, nil)
	events := NewEvents(DefaultEventsCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx, testConfig(time.Hour), events, NewLatest[portal.SystemStatus]()); err != nil {
		t.Fatal(err)
	}
	expectKind(t, events, KindCheckingStatus)
	cancel()
	waitDone(t, m)
	if m.Err() != nil {
		t.Errorf("Err() = %v", m.Err())
	}
}

func TestMonitorUsesConfiguredRunID(t *testing.T) {
	cfg := testConfig(time.Hour)
	cfg.RunID = "run-42"
	m, events, _ := startMonitor(t, &fakePortal{active: true}, cfg)
	expectKind(t, events, KindCheckingStatus)
	if m.RunID() != "run-42" {
		t.Errorf("RunID() = %q, want run-42", m.RunID())
	}
}
