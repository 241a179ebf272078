package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
)

// OrphanReconciler is the consistency-repair pass. Cascades are atomic, so
// a single sweep cannot leave a half-applied subtree; orphans come from
// cross-sweep races and out-of-band deletes. The reconciler finds child
// records whose owning parent is already Purged (missing) or Tombstoned
// long past its own grace period and resolves them directly, bypassing
// cascade re-derivation since the parent path is gone. Detected
// inconsistencies are always repaired and reported, never silently ignored.
type OrphanReconciler struct {
	graph   *models.EntityGraph
	stores  map[models.EntityType]repositories.RecordStore
	cascade *CascadeEngine
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrphanReconciler creates an OrphanReconciler.
func NewOrphanReconciler(
	graph *models.EntityGraph,
	stores map[models.EntityType]repositories.RecordStore,
	cascade *CascadeEngine,
	logger *zap.Logger,
) *OrphanReconciler {
	return &OrphanReconciler{
		graph:   graph,
		stores:  stores,
		cascade: cascade,
		logger:  logger.Named("reconciler"),
		now:     time.Now,
	}
}

// Run scans each child entity type top-down and repairs orphans. Repairs
// at one level make the next level reachable on the same run, and anything
// still inconsistent is picked up by the next scheduled sweep.
func (r *OrphanReconciler) Run(ctx context.Context, policies map[models.EntityType]models.RetentionPolicy) (res models.CleanupResult) {
	start := r.now()
	res = models.CleanupResult{
		Operation: models.OpOrphanReconciliation,
		Timestamp: start.UTC(),
	}
	defer func() { res.Duration = r.now().Sub(start) }()

	defaults := models.DefaultPolicies()
	policyFor := func(t models.EntityType) models.RetentionPolicy {
		if p, ok := policies[t]; ok {
			return p
		}
		return defaults[t]
	}

	for _, t := range r.graph.Types() {
		parentType, hasParent := r.graph.Parent(t)
		if !hasParent {
			continue
		}
		store, ok := r.stores[t]
		if !ok {
			continue
		}

		policy := policyFor(t)
		parentPolicy := policyFor(parentType)

		// The store selects violations directly, so the batch limit bounds
		// repairs per run, not rows examined.
		cutoff := r.now().Add(-parentPolicy.GracePeriod)
		refs, err := store.FindOrphanRefs(ctx, cutoff, policy.BatchSize)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("scan %s: %v", t, err))
			continue
		}

		for _, ref := range refs {
			switch {
			case ref.ParentMissing:
				// Parent purged without this child: invariant violation,
				// purge the child subtree directly.
				res.RecordsProcessed++
				cres, perr := r.purgeOrphan(ctx, t, ref, policy)
				if perr != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("purge orphan %s %s: %v", t, ref.ID, perr))
					continue
				}
				res.RecordsDeleted += cres.Total()
				res.RecordsArchived += cres.TotalArchived()
				r.logger.Warn("Repaired orphan with purged parent",
					zap.String("entity_type", string(t)),
					zap.String("id", ref.ID.String()),
					zap.String("parent_type", string(parentType)),
					zap.String("parent_id", ref.ParentID.String()),
					zap.Int("deleted", cres.Total()))

			case ref.ParentTombstonedAt != nil && ref.TombstonedAt == nil:
				// Active child under a long-dead parent: re-apply the
				// missed tombstone with the parent's instant so a later
				// restore of the parent picks the child up again.
				res.RecordsProcessed++
				cres, terr := r.cascade.Tombstone(ctx, t, ref.ID, *ref.ParentTombstonedAt)
				if terr != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("tombstone orphan %s %s: %v", t, ref.ID, terr))
					continue
				}
				res.RecordsDeleted += cres.Total()
				r.logger.Warn("Repaired active orphan under tombstoned parent",
					zap.String("entity_type", string(t)),
					zap.String("id", ref.ID.String()),
					zap.String("parent_type", string(parentType)),
					zap.Int("tombstoned", cres.Total()))
			}
		}
	}
	return res
}

// purgeOrphan removes an orphaned subtree. The child is tombstoned first
// if still Active (purge only deletes Tombstoned rows), then purged with
// a zero grace period: the parent is already gone, so there is nothing
// left to wait for.
func (r *OrphanReconciler) purgeOrphan(ctx context.Context, t models.EntityType, ref models.OrphanRef, policy models.RetentionPolicy) (models.CascadeResult, error) {
	if ref.TombstonedAt == nil {
		if _, err := r.cascade.Tombstone(ctx, t, ref.ID, r.now()); err != nil {
			return models.CascadeResult{}, err
		}
	}
	immediate := policy
	immediate.GracePeriod = 0
	return r.cascade.Purge(ctx, t, ref.ID, immediate, r.now())
}
