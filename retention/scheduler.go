// Package retention prunes usage events that have aged out of every window
// the ledger can still query. It runs outside the ledger, which never deletes.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/tutorquota/adapters/metrics"
	"github.com/artpar/tutorquota/ports"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs pruning daily at 3am.
const DefaultSchedule = "0 3 * * *"

// Config configures the scheduler.
type Config struct {
	Pruner   ports.UsagePruner
	Clock    ports.Clock
	Metrics  *metrics.Collector // optional
	Logger   zerolog.Logger
	Schedule string // Standard 5-field cron expression
	Days     int    // Events older than this many days are removed
	Timeout  time.Duration
}

// Scheduler runs the pruner on a cron schedule.
type Scheduler struct {
	pruner   ports.UsagePruner
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger
	schedule string
	days     int
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler validates cfg and creates a stopped scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Pruner == nil {
		return nil, errors.New("retention: pruner is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("retention: clock is required")
	}
	if cfg.Days < 1 {
		return nil, fmt.Errorf("retention: days must be at least 1, got %d", cfg.Days)
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("retention: invalid cron schedule %q: %w", schedule, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	return &Scheduler{
		pruner:   cfg.Pruner,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "retention").Logger(),
		schedule: schedule,
		days:     cfg.Days,
		timeout:  timeout,
	}, nil
}

// Cutoff returns the instant before which events are pruned: the start of
// the UTC day that is Days days before now.
func (s *Scheduler) Cutoff(now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -s.days)
}

// RunOnce prunes immediately and returns the number of events removed.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	cutoff := s.Cutoff(s.clock.Now())

	deleted, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("usage event pruning failed")
		return deleted, fmt.Errorf("prune usage events: %w", err)
	}

	if s.metrics != nil && deleted > 0 {
		s.metrics.EventsPruned.Add(float64(deleted))
	}

	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("deleted_count", deleted).
		Dur("duration", time.Since(start)).
		Msg("usage event pruning completed")
	return deleted, nil
}

// Start schedules pruning until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("retention: schedule pruning: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("days", s.days).
		Time("next_run", s.nextRunLocked()).
		Msg("retention scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	done := s.cron.Stop()
	<-done.Done()
	s.running = false
	s.logger.Info().Msg("retention scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or the zero time when
// the scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *Scheduler) nextRunLocked() time.Time {
	if s.cron == nil || !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
