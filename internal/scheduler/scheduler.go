package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/config"
	"water-order-bot/internal/metrics"
	"water-order-bot/internal/monitor"
)

// Runner runs one reconciliation pass.
type Runner interface {
	RunOnce(ctx context.Context) (monitor.PassResult, error)
}

// Purger removes orders sent before a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler triggers reconciliation passes on a fixed interval
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.SchedulerConfig
	cronSpec  string
	runner    Runner
	purger    Purger
	retention time.Duration
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	statsMu    sync.RWMutex
	lastRun    time.Time
	lastResult monitor.PassResult
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetention purges orders older than retention after every pass.
// A zero retention keeps orders until they are answered.
func WithRetention(p Purger, retention time.Duration) Option {
	return func(s *Scheduler) {
		s.purger = p
		s.retention = retention
	}
}

// WithMetrics records purged orders in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a new scheduler
func New(cfg config.SchedulerConfig, runner Runner, log logrus.FieldLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		config: cfg,
		runner: runner,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) schedule() string {
	if s.cronSpec != "" {
		return s.cronSpec
	}
	return fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.cronSpec == "" && s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid scheduler interval: %d minutes", s.config.IntervalMinutes)
	}

	// A fresh cron per start so that a stopped scheduler can be restarted.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)
	entryID, err := c.AddFunc(s.schedule(), s.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron = c
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	s.log.WithField("interval_minutes", s.config.IntervalMinutes).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler. A pass already in progress runs to completion
// before Stop returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	<-s.cron.Stop().Done()
	s.isRunning = false

	s.log.Info("Scheduler stopped gracefully")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	// Passes are not tied to the scheduler lifetime so that shutdown never
	// interrupts an order mid-way.
	_, _ = s.runPass(context.Background())
}

// RunOnce runs one pass immediately, independent of the schedule. The pass
// runs to completion even if ctx is cancelled.
func (s *Scheduler) RunOnce(ctx context.Context) (monitor.PassResult, error) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	defer s.wg.Done()

	s.log.Info("Running reconciliation pass once")
	return s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) (monitor.PassResult, error) {
	result, err := s.runner.RunOnce(ctx)
	if err != nil {
		s.log.WithError(err).Error("Reconciliation pass failed")
	}
	if result.Skipped {
		return result, err
	}

	s.statsMu.Lock()
	s.lastRun = s.now()
	s.lastResult = result
	s.statsMu.Unlock()

	s.purge(ctx)
	return result, err
}

func (s *Scheduler) purge(ctx context.Context) {
	if s.purger == nil || s.retention <= 0 {
		return
	}

	n, err := s.purger.PurgeOlderThan(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.log.WithError(err).Error("Failed to purge expired orders")
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"purged": n, "retention": s.retention.String()}).Info("Purged expired orders")
		if s.metrics != nil {
			s.metrics.OrdersPurged.Add(float64(n))
		}
	}
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time the last pass finished
func (s *Scheduler) GetLastRun() time.Time {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastRun
}

// LastResult returns the outcome of the last pass that was not skipped.
func (s *Scheduler) LastResult() monitor.PassResult {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastResult
}

// Wait waits for running passes to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
