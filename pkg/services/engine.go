package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
)

// sweepLeaseTTL bounds how long a crashed sweeper keeps other sweepers
// skipping its entity type.
const sweepLeaseTTL = 15 * time.Minute

// sweepOrder is the fixed full-sweep order. Users run last so that a
// user's experiences are already tombstoned or purged before the user row
// itself is evaluated, avoiding redundant cascade work. Orphan
// reconciliation runs after all passes.
var sweepOrder = []models.EntityType{
	models.EntityExperience,
	models.EntityPrompt,
	models.EntityComment,
	models.EntityReaction,
	models.EntityPromptRating,
	models.EntityUser,
}

// RetentionEngine is the lifecycle engine surface consumed by the admin
// layer.
type RetentionEngine interface {
	// RunSweep triggers a full sweep: age-out and grace-period passes for
	// every policy-configured entity type, then orphan reconciliation.
	// A nil policies map uses the engine's configured policies.
	RunSweep(ctx context.Context, policies map[models.EntityType]models.RetentionPolicy) ([]models.CleanupResult, error)

	// Tombstone is the direct admin-triggered tombstone cascade. A
	// moderation reason additionally purges reactions under the root
	// immediately.
	Tombstone(ctx context.Context, t models.EntityType, id uuid.UUID, reason models.Reason) (models.CascadeResult, error)

	// Restore undoes a cascade tombstone, requiring all ancestors Active.
	Restore(ctx context.Context, t models.EntityType, id uuid.UUID) (models.CascadeResult, error)

	// GetRetentionStats returns read-only lifecycle aggregates per entity
	// type.
	GetRetentionStats(ctx context.Context) (map[models.EntityType]models.RetentionStats, error)

	// GetPolicies returns the configured retention policies.
	GetPolicies() map[models.EntityType]models.RetentionPolicy
}

type retentionEngine struct {
	stores     map[models.EntityType]repositories.RecordStore
	cascade    *CascadeEngine
	sweeper    *Sweeper
	reconciler *OrphanReconciler
	lease      SweepLease
	policies   map[models.EntityType]models.RetentionPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewRetentionEngine creates the engine facade.
func NewRetentionEngine(
	stores map[models.EntityType]repositories.RecordStore,
	cascade *CascadeEngine,
	sweeper *Sweeper,
	reconciler *OrphanReconciler,
	lease SweepLease,
	policies map[models.EntityType]models.RetentionPolicy,
	logger *zap.Logger,
) RetentionEngine {
	return &retentionEngine{
		stores:     stores,
		cascade:    cascade,
		sweeper:    sweeper,
		reconciler: reconciler,
		lease:      lease,
		policies:   policies,
		logger:     logger.Named("retention"),
		now:        time.Now,
	}
}

var _ RetentionEngine = (*retentionEngine)(nil)

func (e *retentionEngine) RunSweep(ctx context.Context, policies map[models.EntityType]models.RetentionPolicy) ([]models.CleanupResult, error) {
	if policies == nil {
		policies = e.policies
	}

	var results []models.CleanupResult
	for _, t := range sweepOrder {
		policy, ok := policies[t]
		if !ok {
			continue
		}

		release, acquired, err := e.lease.TryAcquire(ctx, "retention:sweep:"+string(t), sweepLeaseTTL)
		if err != nil {
			// The lease only avoids duplicated work; sweeping without it
			// is still correct.
			e.logger.Warn("Sweep lease unavailable, sweeping without it",
				zap.String("entity_type", string(t)), zap.Error(err))
		} else if !acquired {
			e.logger.Info("Skipping entity type, sweep lease held elsewhere",
				zap.String("entity_type", string(t)))
			continue
		}

		results = append(results, e.sweeper.SweepType(ctx, t, policy)...)
		if release != nil {
			release()
		}

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}

	results = append(results, e.reconciler.Run(ctx, policies))
	return results, nil
}

func (e *retentionEngine) Tombstone(ctx context.Context, t models.EntityType, id uuid.UUID, reason models.Reason) (models.CascadeResult, error) {
	if !models.IsValidEntityType(t) {
		return models.CascadeResult{}, fmt.Errorf("%w: unknown entity type %q", apperrors.ErrConstraintViolation, t)
	}
	if reason == models.ReasonModeration {
		return e.cascade.TombstoneForModeration(ctx, t, id, e.now())
	}
	return e.cascade.Tombstone(ctx, t, id, e.now())
}

func (e *retentionEngine) Restore(ctx context.Context, t models.EntityType, id uuid.UUID) (models.CascadeResult, error) {
	if !models.IsValidEntityType(t) {
		return models.CascadeResult{}, fmt.Errorf("%w: unknown entity type %q", apperrors.ErrConstraintViolation, t)
	}
	return e.cascade.Restore(ctx, t, id)
}

func (e *retentionEngine) GetRetentionStats(ctx context.Context) (map[models.EntityType]models.RetentionStats, error) {
	now := e.now()
	stats := make(map[models.EntityType]models.RetentionStats, len(e.stores))
	for t, store := range e.stores {
		policy, ok := e.policies[t]
		if !ok {
			policy = models.DefaultPolicies()[t]
		}
		s, err := store.Stats(ctx, now.Add(-policy.GracePeriod))
		if err != nil {
			return nil, fmt.Errorf("failed to get stats for %s: %w", t, err)
		}
		stats[t] = s
	}
	return stats, nil
}

func (e *retentionEngine) GetPolicies() map[models.EntityType]models.RetentionPolicy {
	out := make(map[models.EntityType]models.RetentionPolicy, len(e.policies))
	for t, p := range e.policies {
		out[t] = p
	}
	return out
}
