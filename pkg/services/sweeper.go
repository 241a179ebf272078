package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
)

// Sweeper implements the scheduled retention passes for one entity type:
// the age-out pass tombstones Active records past their MaxAge, and the
// grace-period pass archives and purges Tombstoned records past their
// GracePeriod. Both passes are bounded by the policy's BatchSize and use
// continue-on-error accumulation: records are independent, so one failure
// never aborts the rest of the batch.
type Sweeper struct {
	stores  map[models.EntityType]repositories.RecordStore
	cascade *CascadeEngine
	logger  *zap.Logger
	now     func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(stores map[models.EntityType]repositories.RecordStore, cascade *CascadeEngine, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		stores:  stores,
		cascade: cascade,
		logger:  logger.Named("sweeper"),
		now:     time.Now,
	}
}

// SweepType runs the age-out pass followed by the grace-period pass for
// one entity type, each to completion, and returns both results.
func (s *Sweeper) SweepType(ctx context.Context, t models.EntityType, policy models.RetentionPolicy) []models.CleanupResult {
	return []models.CleanupResult{
		s.AgeOutPass(ctx, t, policy),
		s.GracePeriodPass(ctx, t, policy),
	}
}

// AgeOutPass tombstones up to BatchSize Active records created more than
// MaxAge ago, cascading to their descendants.
func (s *Sweeper) AgeOutPass(ctx context.Context, t models.EntityType, policy models.RetentionPolicy) (res models.CleanupResult) {
	start := s.now()
	res = models.CleanupResult{
		Operation:  models.OpAgeOut,
		EntityType: t,
		Timestamp:  start.UTC(),
	}
	defer func() { res.Duration = s.now().Sub(start) }()

	store, ok := s.stores[t]
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("no record store for entity type %q", t))
		return res
	}

	cutoff := start.Add(-policy.MaxAge)
	ids, err := store.FindAgedOut(ctx, cutoff, policy.BatchSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("select aged-out %s: %v", t, err))
		return res
	}

	for _, id := range ids {
		res.RecordsProcessed++
		cres, err := s.cascade.Tombstone(ctx, t, id, s.now())
		if err != nil {
			s.recordError(&res, t, id.String(), "tombstone", err)
			continue
		}
		res.RecordsDeleted += cres.Total()
	}
	return res
}

// GracePeriodPass archives and purges up to BatchSize Tombstoned records
// whose grace period has elapsed.
func (s *Sweeper) GracePeriodPass(ctx context.Context, t models.EntityType, policy models.RetentionPolicy) (res models.CleanupResult) {
	start := s.now()
	res = models.CleanupResult{
		Operation:  models.OpGracePurge,
		EntityType: t,
		Timestamp:  start.UTC(),
	}
	defer func() { res.Duration = s.now().Sub(start) }()

	store, ok := s.stores[t]
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("no record store for entity type %q", t))
		return res
	}

	cutoff := start.Add(-policy.GracePeriod)
	ids, err := store.FindPastGrace(ctx, cutoff, policy.BatchSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("select purgeable %s: %v", t, err))
		return res
	}

	for _, id := range ids {
		res.RecordsProcessed++
		cres, err := s.cascade.Purge(ctx, t, id, policy, s.now())
		if err != nil {
			s.recordError(&res, t, id.String(), "purge", err)
			continue
		}
		res.RecordsDeleted += cres.Total()
		res.RecordsArchived += cres.TotalArchived()
	}
	return res
}

// recordError logs and accumulates one per-record failure without
// stopping the batch. The error kind determines only how loudly it is
// logged: invalid transitions are programming errors and must never be
// silently ignored.
func (s *Sweeper) recordError(res *models.CleanupResult, t models.EntityType, id, op string, err error) {
	kind := apperrors.Classify(err)
	fields := []zap.Field{
		zap.String("entity_type", string(t)),
		zap.String("id", id),
		zap.String("operation", op),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if kind == apperrors.KindInvalidTransition {
		s.logger.Error("Illegal lifecycle transition requested during sweep", fields...)
	} else {
		s.logger.Warn("Sweep skipped record", fields...)
	}
	res.Errors = append(res.Errors, fmt.Sprintf("%s %s %s: %v", op, t, id, err))
}
