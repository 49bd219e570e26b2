package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RunFunc is one scheduled pass of the pipeline.
type RunFunc func(ctx context.Context) error

// Config holds scheduler settings.
type Config struct {
	Cron         *CronExpr
	TickInterval time.Duration
	LockPath     string
	// RunOnStartup fires one run as soon as Run is called.
	RunOnStartup bool
	// Location is the zone cron expressions are evaluated in. Defaults to
	// the local zone.
	Location *time.Location
}

// Scheduler fires a RunFunc on matching cron minutes. At most one run is in
// flight per process, and the file lock keeps other processes out.
type Scheduler struct {
	cfg  Config
	run  RunFunc
	lock *FileLock
	busy *semaphore.Weighted

	mu        sync.Mutex
	lastFired time.Time
	wg        sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, run RunFunc) (*Scheduler, error) {
	if cfg.Cron == nil {
		return nil, errors.New("scheduler: cron expression required")
	}
	if cfg.LockPath == "" {
		return nil, errors.New("scheduler: lock path required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		cfg:  cfg,
		run:  run,
		lock: NewFileLock(cfg.LockPath),
		busy: semaphore.NewWeighted(1),
	}, nil
}

// Next returns the next scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.cfg.Cron.Next(t.In(s.cfg.Location))
}

// Run starts the tick loop. It blocks until ctx is cancelled, then waits for
// an in-flight run to return.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "next_run", s.Next(time.Now()))
	if s.cfg.RunOnStartup {
		s.fire(ctx, time.Now(), "startup")
	}
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick fires a run when now falls on a scheduled minute that has not fired
// yet.
func (s *Scheduler) tick(ctx context.Context, now time.Time) bool {
	now = now.In(s.cfg.Location)
	if !s.cfg.Cron.Matches(now) {
		return false
	}
	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	if minute.Equal(s.lastFired) {
		s.mu.Unlock()
		return false
	}
	s.lastFired = minute
	s.mu.Unlock()
	return s.fire(ctx, now, "cron")
}

// fire starts a run in the background unless one is already in flight here
// or in another process.
func (s *Scheduler) fire(ctx context.Context, now time.Time, trigger string) bool {
	if !s.busy.TryAcquire(1) {
		slog.Warn("Scheduled run skipped: previous run still in progress", "tick", now)
		return false
	}
	acquired, err := s.lock.TryLock()
	if err != nil {
		s.busy.Release(1)
		slog.Warn("Scheduler lock error", "error", err)
		return false
	}
	if !acquired {
		s.busy.Release(1)
		slog.Info("Scheduled run skipped: lock held by another process", "lock", s.cfg.LockPath)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Release(1)
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				slog.Warn("Scheduler unlock failed", "error", err)
			}
		}()
		slog.Info("Scheduled run starting", "trigger", trigger, "tick", now)
		if err := s.run(ctx); err != nil {
			slog.Error("Scheduled run failed", "trigger", trigger, "error", err)
			return
		}
		slog.Info("Scheduled run finished", "trigger", trigger, "next_run", s.Next(time.Now()))
	}()
	return true
}

// Wait blocks until an in-flight run returns.
func (s *Scheduler) Wait() { s.wg.Wait() }
