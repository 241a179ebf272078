package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// sweepRunner is the slice of the engine the scheduler needs.
type sweepRunner interface {
	RunSweep(ctx context.Context, policies map[models.EntityType]models.RetentionPolicy) ([]models.CleanupResult, error)
}

// SweepScheduler triggers a full sweep on a fixed interval, optionally
// once at startup. Sweeps for different processes are coordinated by the
// sweep lease, not by the scheduler.
type SweepScheduler struct {
	engine     sweepRunner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

// NewSweepScheduler creates a SweepScheduler.
func NewSweepScheduler(engine sweepRunner, interval time.Duration, runOnStart bool, logger *zap.Logger) *SweepScheduler {
	return &SweepScheduler{
		engine:     engine,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger.Named("scheduler"),
	}
}

// Run blocks until ctx is cancelled, sweeping on each tick. A sweep either
// completes a record's transaction or leaves it for the next run; there is
// no mid-record cancellation beyond the per-transaction deadline.
func (s *SweepScheduler) Run(ctx context.Context) {
	if s.runOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweep scheduler stopping")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SweepScheduler) runOnce(ctx context.Context) {
	start := time.Now()
	results, err := s.engine.RunSweep(ctx, nil)
	if err != nil {
		s.logger.Error("Sweep aborted", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}

	var processed, deleted, archived, errCount int
	for _, r := range results {
		processed += r.RecordsProcessed
		deleted += r.RecordsDeleted
		archived += r.RecordsArchived
		errCount += len(r.Errors)
	}
	s.logger.Info("Sweep complete",
		zap.Int("passes", len(results)),
		zap.Int("records_processed", processed),
		zap.Int("records_deleted", deleted),
		zap.Int("records_archived", archived),
		zap.Int("errors", errCount),
		zap.Duration("elapsed", time.Since(start)))
}
