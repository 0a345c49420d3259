package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"netaccess/internal/storage"
)

// DefaultPruneInterval is how often old actions are removed.
const DefaultPruneInterval = time.Hour

// Pruner periodically deletes actions older than the retention window
type Pruner struct {
	scheduler gocron.Scheduler
	store     storage.Storage
	retention time.Duration
	interval  time.Duration
	log       logrus.FieldLogger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	shutdown bool
}

// NewPruner creates a pruner. A zero retention keeps history forever.
func NewPruner(store storage.Storage, retention, interval time.Duration, logger logrus.FieldLogger) (*Pruner, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Pruner{
		scheduler: scheduler,
		store:     store,
		retention: retention,
		interval:  interval,
		log:       logger.WithField("component", "pruner"),
		now:       time.Now,
	}, nil
}

// Start schedules the prune job and runs one pass immediately
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pruner is already running")
	}
	if p.shutdown {
		return fmt.Errorf("pruner is stopped")
	}
	if p.retention <= 0 {
		p.log.Debug("history retention disabled, pruner not started")
		return nil
	}

	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			p.Prune(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create prune job: %w", err)
	}

	p.scheduler.Start()
	p.running = true

	go p.Prune(ctx)

	return nil
}

// Stop shuts the scheduler down. The pruner cannot be restarted.
func (p *Pruner) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil
	}
	p.shutdown = true
	p.running = false
	if err := p.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (p *Pruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Prune deletes actions older than the retention window once
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneActions(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("failed to prune history")
		return 0, err
	}
	if n > 0 {
		p.log.WithFields(logrus.Fields{"removed": n, "cutoff": cutoff}).Info("pruned history")
	}
	return n, nil
}
