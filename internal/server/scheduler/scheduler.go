// Package scheduler runs the sweeps on their own tickers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/lease"
	"github.com/dmitrijs2005/tierstore/internal/logging"
	"github.com/dmitrijs2005/tierstore/internal/metrics"
	"github.com/dmitrijs2005/tierstore/internal/server/sweep"
)

// ErrBusy is returned when the job is already running, here or on another
// replica holding its lease.
var ErrBusy = errors.New("job already running")

var ErrUnknownJob = errors.New("unknown job")

type Options struct {
	// Locker serialises a job across replicas. Nil means lease.Local.
	Locker   lease.Locker
	LeaseTTL time.Duration
	// Metrics and Checklists are optional; with both set the checklist
	// backlog gauges are refreshed after every pass.
	Metrics    *metrics.SweepMetrics
	Checklists *checklist.Store
	Logger     logging.Logger
}

type entry struct {
	job      sweep.Job
	interval time.Duration
	mu       sync.Mutex
}

type Scheduler struct {
	opts    Options
	logger  logging.Logger
	entries map[string]*entry
	order   []string
}

func New(opts Options) *Scheduler {
	if opts.Locker == nil {
		opts.Locker = lease.Local{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Scheduler{
		opts:    opts,
		logger:  opts.Logger.With("module", "scheduler"),
		entries: make(map[string]*entry),
	}
}

// Add registers job to run every interval. A non-positive interval disables
// the ticker; the job can still be run with RunOnce.
func (s *Scheduler) Add(job sweep.Job, interval time.Duration) {
	name := job.Name()
	if _, ok := s.entries[name]; !ok {
		s.order = append(s.order, name)
	}
	s.entries[name] = &entry{job: job, interval: interval}
}

// Start runs every registered job on its ticker until ctx is cancelled, then
// waits for passes in progress to return.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.order {
		e := s.entries[name]
		if e.interval <= 0 {
			s.logger.Info(ctx, "job disabled", "job", name)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, name, e.interval)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx, name)
		}
	}
}

// RunOnce runs the named job now unless it is already running. Outcomes are
// logged and recorded; errors are returned for callers that care.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (sweep.Result, error) {
	e, ok := s.entries[name]
	if !ok {
		return sweep.Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !e.mu.TryLock() {
		s.logger.Debug(ctx, "previous pass still running", "job", name)
		return sweep.Result{}, ErrBusy
	}
	defer e.mu.Unlock()

	release, ok, err := s.opts.Locker.TryAcquire(ctx, name, s.opts.LeaseTTL)
	if err != nil {
		s.logger.Error(ctx, "lease unavailable", "job", name, "error", err)
		return sweep.Result{}, err
	}
	if !ok {
		s.logger.Debug(ctx, "lease held elsewhere", "job", name)
		return sweep.Result{}, ErrBusy
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "lease release failed", "job", name, "error", err)
		}
	}()

	start := time.Now()
	res, err := e.job.Run(ctx)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, sweep.ErrSkipped):
		outcome = metrics.OutcomeSkipped
		s.logger.Info(ctx, "pass skipped", "job", name, "reason", err)
	case err != nil:
		outcome = metrics.OutcomeError
		s.logger.Error(ctx, "pass failed", "job", name, "error", err)
	}
	s.record(name, outcome, elapsed, res)
	return res, err
}

func (s *Scheduler) record(job, outcome string, d time.Duration, res sweep.Result) {
	m := s.opts.Metrics
	if m == nil {
		return
	}
	m.RecordRun(job, outcome, d, metrics.Counts(res))

	if s.opts.Checklists == nil {
		return
	}
	for _, n := range []checklist.Name{checklist.Local, checklist.Remote, checklist.Upload} {
		if c, err := s.opts.Checklists.Count(n); err == nil {
			m.SetBacklog(string(n), c)
		}
	}
}
