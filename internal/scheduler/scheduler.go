package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"email-event-digest/internal/config"
	"email-event-digest/internal/fetcher"
	"email-event-digest/internal/metrics"
	"email-event-digest/internal/pipeline"
)

// Scheduler drives periodic extraction runs: fetch new emails, hand the
// batch to the pipeline, then run cache and learning-store maintenance.
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	fetcher   fetcher.EmailFetcher
	pipeline  *pipeline.Pipeline
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, f fetcher.EmailFetcher, p *pipeline.Pipeline, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		config:   cfg,
		fetcher:  f,
		pipeline: p,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Run every N minutes
	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any in-flight run
	s.cancel()
	s.cron.Remove(s.entryID)

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	// Install a fresh context so a later Start (or RunOnce) does not run
	// on the cancelled one.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runCycle is the periodic job body.
func (s *Scheduler) runCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping extraction cycle")
		return
	}
	s.mu.RUnlock()

	if _, err := s.runBatch(s.runCtx()); err != nil {
		logrus.Errorf("Extraction cycle failed: %v", err)
	}
}

// runCtx returns the current run context; Stop swaps it out, so reads
// go through the lock.
func (s *Scheduler) runCtx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// runBatch fetches new emails and runs one pipeline batch over them.
func (s *Scheduler) runBatch(ctx context.Context) (*pipeline.RunSummary, error) {
	logrus.Info("Starting extraction cycle")

	emails, err := s.fetcher.FetchNewEmails(ctx)
	if err != nil {
		s.metrics.FetchFailures.Inc()
		return nil, fmt.Errorf("failed to fetch emails: %w", err)
	}

	logrus.Infof("Fetched %d new emails", len(emails))

	summary, err := s.pipeline.Run(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("extraction run failed: %w", err)
	}

	s.pipeline.Maintain()
	return summary, nil
}

// RunOnce runs one extraction cycle immediately (for manual triggering)
// and returns its summary.
func (s *Scheduler) RunOnce() (*pipeline.RunSummary, error) {
	logrus.Info("Running extraction cycle once")
	return s.runBatch(s.runCtx())
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for any in-flight cycle to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
