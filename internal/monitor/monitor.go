package monitor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"netaccess/internal/portal"
	pkgerrors "netaccess/pkg/errors"
)

// MinSuspend is the shortest sleep a user may configure between iterations.
const MinSuspend = 30 * time.Second

// Portal is the subset of the portal client the monitor drives.
type Portal interface {
	Status(ctx context.Context, user portal.User) (*portal.Status, error)
	Approve(ctx context.Context, user portal.User, tier portal.DurationTier, force bool) (netip.Addr, error)
}

// Config describes one monitor run.
type Config struct {
	User    portal.User
	Tier    portal.DurationTier
	Suspend time.Duration
	// RunID tags log lines and history rows of this run. Generated when empty.
	RunID string
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if c.User.Name() == "" {
		return pkgerrors.ErrNoUsername
	}
	if c.Suspend <= 0 {
		return pkgerrors.ErrSuspendTooShort
	}
	return nil
}

// Monitor keeps the system's address approved. It owns at most one running
// loop at a time.
type Monitor struct {
	portal Portal
	log    logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runID  string
	err    error
}

// New creates an idle monitor.
func New(p Portal, logger logrus.FieldLogger) *Monitor {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Monitor{portal: p, log: logger}
}

// Start launches the loop in its own goroutine. Starting a running monitor
// is a no-op; the current run, its queue and its slot are kept.
func (m *Monitor) Start(ctx context.Context, cfg Config, events *Events, latest *Latest[portal.SystemStatus]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running() {
		m.log.Debug("monitor already running, ignoring start")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !events.bind() {
		return errors.New("events queue already bound to a monitor run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := m.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"user":    cfg.User.Name(),
		"tier":    cfg.Tier.String(),
		"suspend": cfg.Suspend.String(),
	})

	m.cancel = cancel
	m.done = done
	m.runID = runID
	m.err = nil

	go func() {
		defer close(done)
		defer events.finish()
		defer cancel()

		log.Info("monitor started")
		err := m.run(runCtx, cfg, events, latest, log)
		if err != nil {
			log.WithError(err).Warn("monitor stopped")
		} else {
			log.Info("monitor stopped")
		}

		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
	}()

	return nil
}

// Stop aborts the running loop and waits for it to exit. It is a no-op when
// idle.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a loop is in progress.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running()
}

func (m *Monitor) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Done is closed when the current run exits. Nil before the first Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err reports why the last run ended. Nil when it was stopped.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// RunID identifies the current or last run.
func (m *Monitor) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

func (m *Monitor) run(ctx context.Context, cfg Config, events *Events, latest *Latest[portal.SystemStatus], log logrus.FieldLogger) error {
	for {
		err := m.iterate(ctx, cfg, events, latest, log)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, pkgerrors.ErrChannelClosed) {
			return err
		}

		log.WithError(err).Error("monitor iteration failed")
		retry := NewSignal()
		if err := events.send(ctx, Error{Cause: err, Retry: retry}); err != nil {
			return sendResult(ctx, err)
		}

		err = waitRetry(ctx, retry, events, log)
		retry.Drop()
		if err != nil || ctx.Err() != nil {
			return err
		}
	}
}

// waitRetry blocks until the consumer fires or drops the retry handle.
func waitRetry(ctx context.Context, retry *Signal, events *Events, log logrus.FieldLogger) error {
	select {
	case fired := <-retry.received():
		if !fired {
			return pkgerrors.ErrRetryAbandoned
		}
		log.Debug("retrying after error")
		return nil
	case <-events.Closed():
		return pkgerrors.ErrChannelClosed
	case <-ctx.Done():
		return nil
	}
}

func (m *Monitor) iterate(ctx context.Context, cfg Config, events *Events, latest *Latest[portal.SystemStatus], log logrus.FieldLogger) error {
	if err := events.send(ctx, CheckingStatus{}); err != nil {
		return err
	}

	status, err := m.portal.Status(ctx, cfg.User)
	if err != nil {
		return err
	}
	latest.Store(status.System)

	if !status.System.Connection.IsActive() {
		ip := status.System.IP
		if err := events.send(ctx, Approving{IP: ip}); err != nil {
			return err
		}
		if _, err := m.portal.Approve(ctx, cfg.User, cfg.Tier, false); err != nil {
			return err
		}
		log.WithField("ip", ip.String()).Info("approved system address")
		return nil
	}

	wake := NewSignal()
	// Once the wait ends nobody listens on the handle; a late wake must fail.
	defer wake.Drop()
	if err := events.send(ctx, Suspended{Duration: cfg.Suspend, Wake: wake}); err != nil {
		return err
	}
	return sleep(ctx, cfg.Suspend, wake, events, log)
}

// sleep waits for the timer or a wake signal. A dropped wake handle leaves
// the timer as the only way out.
func sleep(ctx context.Context, d time.Duration, wake *Signal, events *Events, log logrus.FieldLogger) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	wakeC := wake.received()
	for {
		select {
		case <-timer.C:
			return nil
		case fired := <-wakeC:
			if fired {
				log.Debug("woken before suspend elapsed")
				return nil
			}
			wakeC = nil
		case <-events.Closed():
			return pkgerrors.ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sendResult(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
