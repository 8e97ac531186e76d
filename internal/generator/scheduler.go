package generator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner is a job the scheduler triggers. *Ingester satisfies it.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// SchedulerStats provides scheduler run counters.
type SchedulerStats struct {
	Running       bool
	CompletedRuns int64
	FailedRuns    int64
	LastRunTime   time.Time
	LastError     string
	NextRunTime   time.Time
}

// Scheduler triggers a Runner on a cron expression. Overlapping runs are
// skipped.
type Scheduler struct {
	runner   Runner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	entryID   cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
	completed int64
	failed    int64
	lastRun   time.Time
	lastError string
}

// NewScheduler validates schedule, a standard five-field expression or a
// descriptor such as "@hourly" or "@every 30m".
func NewScheduler(runner Runner, schedule string, loc *time.Location) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	logger := slog.Default().With("component", "scheduler")
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.Recover(cronLogger{logger: logger}), cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
	}, nil
}

// Start begins triggering runs until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.schedule, func() { s.RunNow(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule ingest: %w", err)
	}
	s.entryID = id
	s.running = true
	s.cron.Start()

	s.logger.Info("Scheduler started", "schedule", s.schedule, "next_run", s.cron.Entry(id).Next)
	return nil
}

// Stop waits for an in-flight run to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Scheduler stopped successfully")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Scheduler stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// RunNow triggers one run synchronously and records its outcome.
func (s *Scheduler) RunNow(ctx context.Context) {
	started := time.Now()
	result, err := s.runner.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = started
	if err != nil {
		s.failed++
		s.lastError = err.Error()
		s.logger.Error("Scheduled run failed", "error", err, "duration", time.Since(started))
		return
	}

	s.completed++
	s.lastError = ""
	if result != nil {
		s.logger.Info("Scheduled run completed",
			"points", result.TotalPoints,
			"saved", result.SavedPoints,
			"duration", time.Since(started),
		)
	}
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SchedulerStats{
		Running:       s.running,
		CompletedRuns: s.completed,
		FailedRuns:    s.failed,
		LastRunTime:   s.lastRun,
		LastError:     s.lastError,
	}
	if s.running {
		stats.NextRunTime = s.cron.Entry(s.entryID).Next
	}
	return stats
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
