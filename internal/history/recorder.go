package history

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"netaccess/internal/portal"
	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
)

// Source values stored with each action.
const (
	SourceCLI     = "cli"
	SourceMonitor = "monitor"
)

// Portal is the set of portal operations the recorder wraps.
type Portal interface {
	Status(ctx context.Context, user portal.User) (*portal.Status, error)
	Approve(ctx context.Context, user portal.User, tier portal.DurationTier, force bool) (netip.Addr, error)
	Revoke(ctx context.Context, user portal.User, target string) (netip.Addr, error)
}

// resultPortal is implemented by portals that can tell a real submission
// from an address that already was in the requested state.
type resultPortal interface {
	ApproveResult(ctx context.Context, user portal.User, tier portal.DurationTier, force bool) (portal.Result, error)
	RevokeResult(ctx context.Context, user portal.User, target string) (portal.Result, error)
}

// Notifier queues a best-effort message.
type Notifier interface {
	Notify(message string) bool
}

// Recorder decorates a Portal, storing the outcome of every approve and
// revoke plus every failed status query. Storage failures are logged and
// never change the result returned to the caller.
type Recorder struct {
	next     Portal
	store    storage.Storage
	notifier Notifier
	log      logrus.FieldLogger
	source   string
	runID    string
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithNotifier sends a message for every recorded approve and failure.
func WithNotifier(n Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithRun tags every action with the monitor run.
func WithRun(runID string) Option {
	return func(r *Recorder) {
		r.runID = runID
		r.source = SourceMonitor
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder wraps next.
func NewRecorder(next Portal, store storage.Storage, opts ...Option) *Recorder {
	r := &Recorder{
		next:   next,
		store:  store,
		log:    logrus.StandardLogger(),
		source: SourceCLI,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Status(ctx context.Context, user portal.User) (*portal.Status, error) {
	status, err := r.next.Status(ctx, user)
	if err != nil {
		r.record(ctx, &models.Action{
			Kind:     models.ActionStatus,
			Username: user.Name(),
		}, err)
	}
	return status, err
}

func (r *Recorder) Approve(ctx context.Context, user portal.User, tier portal.DurationTier, force bool) (netip.Addr, error) {
	var res portal.Result
	var err error
	if rp, ok := r.next.(resultPortal); ok {
		res, err = rp.ApproveResult(ctx, user, tier, force)
	} else {
		res.IP, err = r.next.Approve(ctx, user, tier, force)
		res.Submitted = true
	}

	action := &models.Action{
		Kind:     models.ActionApprove,
		Username: user.Name(),
		Tier:     tier.String(),
	}
	if res.IP.IsValid() {
		action.IP = res.IP.String()
	}
	if err == nil && !res.Submitted {
		action.Result = models.ResultSkipped
	}
	r.record(ctx, action, err)

	if err == nil && res.Submitted && r.store != nil {
		if serr := r.store.SetSetting(ctx, storage.SettingLastApprovedIP, res.IP.String()); serr != nil {
			r.log.WithError(serr).Warn("failed to store last approved ip")
		}
	}
	return res.IP, err
}

func (r *Recorder) Revoke(ctx context.Context, user portal.User, target string) (netip.Addr, error) {
	var res portal.Result
	var err error
	if rp, ok := r.next.(resultPortal); ok {
		res, err = rp.RevokeResult(ctx, user, target)
	} else {
		res.IP, err = r.next.Revoke(ctx, user, target)
		res.Submitted = true
	}

	action := &models.Action{
		Kind:     models.ActionRevoke,
		Username: user.Name(),
		IP:       target,
	}
	if res.IP.IsValid() {
		action.IP = res.IP.String()
	}
	if err == nil && !res.Submitted {
		action.Result = models.ResultSkipped
	}
	r.record(ctx, action, err)
	return res.IP, err
}

func (r *Recorder) record(ctx context.Context, action *models.Action, err error) {
	action.RunID = r.runID
	action.Source = r.source
	action.CreatedAt = r.now()
	if action.Result == "" {
		action.Result = models.ResultSuccess
	}
	if err != nil {
		action.Result = models.ResultFailure
		action.ErrorMessage = err.Error()
	}

	if r.store != nil {
		// Recording outlives a cancelled request context.
		if serr := r.store.RecordAction(context.WithoutCancel(ctx), action); serr != nil {
			r.log.WithError(serr).WithField("kind", action.Kind).Warn("failed to record action")
		}
	}

	if r.notifier != nil {
		if msg := Message(action); msg != "" {
			r.notifier.Notify(msg)
		}
	}
}

// Message renders the notification text for an action, or "" when the
// action is not worth a notification.
func Message(a *models.Action) string {
	if a.Failed() {
		return fmt.Sprintf("netaccess: %s failed for %s: %s", a.Kind, a.Username, a.ErrorMessage)
	}
	if a.Result == models.ResultSkipped {
		return ""
	}
	switch a.Kind {
	case models.ActionApprove:
		return fmt.Sprintf("netaccess: approved %s for %s for 1 %s", a.IP, a.Username, a.Tier)
	case models.ActionRevoke:
		return fmt.Sprintf("netaccess: revoked %s for %s", a.IP, a.Username)
	}
	return ""
}
