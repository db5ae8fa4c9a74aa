package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs archive pruning on a cron schedule.
type Scheduler struct {
	archive *Archive
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a scheduler for the given archive.
func NewScheduler(archive *Archive) *Scheduler {
	return &Scheduler{
		archive: archive,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "events.archive.scheduler"),
	}
}

// Start begins scheduled pruning per the archive's PruneSchedule cron
// expression. An empty schedule disables the scheduler. The scheduler
// stops when the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.archive.config.PruneSchedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.archive.config.PruneSchedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.archive.config.PruneSchedule, err)
	}

	_, err := s.cron.AddFunc(s.archive.config.PruneSchedule, func() {
		if _, err := s.archive.Prune(ctx); err != nil {
			s.logger.Error("scheduled pruning failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("archive prune scheduler started",
		"schedule", s.archive.config.PruneSchedule,
		"retention_days", s.archive.config.RetentionDays,
		"max_rows", s.archive.config.MaxRows,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("archive prune scheduler stopped")
}
