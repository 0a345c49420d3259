package probe

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Result holds the outcome of one strategy.
type Result struct {
	Strategy string
	Latency  time.Duration
	Detail   string
	Err      error
}

// OK reports whether the check passed.
func (r *Result) OK() bool { return r.Err == nil }

// Report holds the outcome of probing the portal with several strategies.
type Report struct {
	Target    string
	Results   []*Result
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ProgressFunc is called each time a single probe completes.
type ProgressFunc func(result *Result, current, total int)

// Config holds configuration for the Prober.
type Config struct {
	Workers int64
	Timeout time.Duration
}

// Prober runs reachability checks against the portal.
type Prober struct {
	config Config
}

// New creates a new Prober.
func New(cfg Config) *Prober {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Prober{config: cfg}
}

// ProbeSingle runs one strategy with the per-probe timeout.
func (p *Prober) ProbeSingle(ctx context.Context, target *url.URL, s Strategy) *Result {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	latency, detail, err := s.Probe(probeCtx, target)
	return &Result{
		Strategy: s.Name(),
		Latency:  latency,
		Detail:   detail,
		Err:      err,
	}
}

// Run probes baseURL with every strategy concurrently using a semaphore-based
// worker pool. Results keep the order of strategies.
func (p *Prober) Run(ctx context.Context, baseURL string, strategies []Strategy, progress ProgressFunc) (*Report, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal url: %w", err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid portal url %q: missing host", baseURL)
	}

	startTime := time.Now()

	report := &Report{Target: target.String()}
	results := make([]*Result, len(strategies))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(p.config.Workers)
	var wg sync.WaitGroup

	for i, s := range strategies {
		wg.Add(1)
		go func(idx int, s Strategy) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = &Result{Strategy: s.Name(), Err: err}
				return
			}
			defer sem.Release(1)

			result := p.ProbeSingle(ctx, target, s)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(strategies))
			}
		}(i, s)
	}

	wg.Wait()

	for _, r := range results {
		report.Results = append(report.Results, r)
		if r.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	report.Duration = time.Since(startTime)
	return report, nil
}
