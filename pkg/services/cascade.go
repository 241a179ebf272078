package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/archive"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
)

// TxRunner runs a function inside one atomic unit of work, rolling back in
// full if the function fails. Each cascade operation is exactly one
// transaction; this is what keeps downward consistency (an ancestor is
// never tombstoned without its descendants) under partial failure.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CascadeEngine applies lifecycle transitions to a root record and all of
// its owned descendants, walking the entity graph in breadth-first order.
type CascadeEngine struct {
	graph  *models.EntityGraph
	stores map[models.EntityType]repositories.RecordStore
	tx     TxRunner
	sink   archive.Sink
	logger *zap.Logger
}

// NewCascadeEngine creates a CascadeEngine.
func NewCascadeEngine(
	graph *models.EntityGraph,
	stores map[models.EntityType]repositories.RecordStore,
	tx TxRunner,
	sink archive.Sink,
	logger *zap.Logger,
) *CascadeEngine {
	return &CascadeEngine{
		graph:  graph,
		stores: stores,
		tx:     tx,
		sink:   sink,
		logger: logger.Named("cascade"),
	}
}

func (e *CascadeEngine) store(t models.EntityType) (repositories.RecordStore, error) {
	s, ok := e.stores[t]
	if !ok {
		return nil, fmt.Errorf("%w: no record store for entity type %q", apperrors.ErrConstraintViolation, t)
	}
	return s, nil
}

// Tombstone marks the root and every Active descendant tombstoned at the
// same instant, inside one transaction. Roots that are already Tombstoned
// or Purged yield a zero result: the operation is idempotent, so racing
// sweeps cannot corrupt state, only waste work.
func (e *CascadeEngine) Tombstone(ctx context.Context, t models.EntityType, id uuid.UUID, at time.Time) (models.CascadeResult, error) {
	return e.tombstone(ctx, t, id, at, false)
}

// TombstoneForModeration is the moderation takedown path: the normal
// tombstone cascade, plus an immediate purge of the tombstoned Reactions
// under the root in the same transaction. Reactions are exempt from the
// grace period here by product policy (cheap to regenerate, never
// archived).
func (e *CascadeEngine) TombstoneForModeration(ctx context.Context, t models.EntityType, id uuid.UUID, at time.Time) (models.CascadeResult, error) {
	return e.tombstone(ctx, t, id, at, true)
}

func (e *CascadeEngine) tombstone(ctx context.Context, t models.EntityType, id uuid.UUID, at time.Time, purgeReactions bool) (models.CascadeResult, error) {
	res := models.NewCascadeResult("tombstone", t, id)
	store, err := e.store(t)
	if err != nil {
		return res, err
	}

	meta, err := store.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return res, nil // already purged
	}
	if err != nil {
		return res, err
	}
	if meta.TombstonedAt != nil {
		return res, nil // already tombstoned
	}

	// Postgres timestamptz stores microseconds; truncate up front so the
	// value written equals the value later compared by restore.
	at = at.UTC().Truncate(time.Microsecond)

	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := store.TombstoneByID(ctx, id, at)
		if err != nil {
			return err
		}
		if ok {
			res.Affected[t]++
		}

		frontier := map[models.EntityType][]uuid.UUID{t: {id}}
		for _, edge := range e.graph.Descendants(t) {
			parents := frontier[edge.Parent]
			if len(parents) == 0 {
				continue
			}
			childStore, err := e.store(edge.Child)
			if err != nil {
				return err
			}
			ids, err := childStore.TombstoneByParent(ctx, parents, at)
			if err != nil {
				return err
			}
			res.Affected[edge.Child] += len(ids)
			frontier[edge.Child] = append(frontier[edge.Child], ids...)
		}

		if purgeReactions {
			return e.purgeReactionsNow(ctx, t, id, frontier, &res)
		}
		return nil
	})
	if err != nil {
		return models.NewCascadeResult("tombstone", t, id), err
	}

	e.logger.Info("Tombstoned record subtree",
		zap.String("entity_type", string(t)),
		zap.String("id", id.String()),
		zap.Int("affected", res.Total()))
	return res, nil
}

// purgeReactionsNow deletes the now-tombstoned reactions under the cascade
// frontier. Runs inside the cascade transaction.
func (e *CascadeEngine) purgeReactionsNow(ctx context.Context, t models.EntityType, id uuid.UUID, frontier map[models.EntityType][]uuid.UUID, res *models.CascadeResult) error {
	reactionStore, err := e.store(models.EntityReaction)
	if err != nil {
		return err
	}

	var ids []uuid.UUID
	if t == models.EntityReaction {
		ids = []uuid.UUID{id}
	} else {
		parentType, ok := e.graph.Parent(models.EntityReaction)
		if !ok {
			return nil
		}
		// All tombstoned reactions under the subtree, including ones
		// tombstoned before this takedown.
		recs, err := reactionStore.ListTombstonedByParent(ctx, frontier[parentType])
		if err != nil {
			return err
		}
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
	}

	n, err := reactionStore.DeleteByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("Purged reactions on moderation takedown",
			zap.String("root_type", string(t)),
			zap.String("root_id", id.String()),
			zap.Int64("purged", n))
	}
	return nil
}

// Restore clears the root's tombstone and those of descendants tombstoned
// by the same cascade, identified by an exactly matching tombstone
// instant. Descendants tombstoned independently (e.g. a comment its author
// deleted before the experience was tombstoned) stay tombstoned. Restore
// requires every ancestor to be Active.
func (e *CascadeEngine) Restore(ctx context.Context, t models.EntityType, id uuid.UUID) (models.CascadeResult, error) {
	res := models.NewCascadeResult("restore", t, id)
	store, err := e.store(t)
	if err != nil {
		return res, err
	}

	meta, err := store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return res, fmt.Errorf("cannot restore %s %s: %w", t, id, apperrors.ErrNotFound)
		}
		return res, err
	}
	if meta.TombstonedAt == nil {
		return res, nil // already active
	}

	if err := e.checkAncestorsActive(ctx, t, meta); err != nil {
		return res, err
	}

	prior := *meta.TombstonedAt
	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := store.RestoreByID(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			res.Affected[t]++
		}

		frontier := map[models.EntityType][]uuid.UUID{t: {id}}
		for _, edge := range e.graph.Descendants(t) {
			parents := frontier[edge.Parent]
			if len(parents) == 0 {
				continue
			}
			childStore, err := e.store(edge.Child)
			if err != nil {
				return err
			}
			ids, err := childStore.RestoreByParent(ctx, parents, prior)
			if err != nil {
				return err
			}
			res.Affected[edge.Child] += len(ids)
			frontier[edge.Child] = append(frontier[edge.Child], ids...)
		}
		return nil
	})
	if err != nil {
		return models.NewCascadeResult("restore", t, id), err
	}

	e.logger.Info("Restored record subtree",
		zap.String("entity_type", string(t)),
		zap.String("id", id.String()),
		zap.Int("affected", res.Total()))
	return res, nil
}

// checkAncestorsActive walks the ownership chain upward and fails with
// ErrAncestorDeleted unless every ancestor exists and is Active.
func (e *CascadeEngine) checkAncestorsActive(ctx context.Context, t models.EntityType, meta *models.RecordMeta) error {
	curType := t
	cur := meta
	for {
		parentType, ok := e.graph.Parent(curType)
		if !ok {
			return nil
		}
		if cur.ParentID == nil {
			return fmt.Errorf("%w: %s %s has no %s reference", apperrors.ErrConstraintViolation, curType, cur.ID, parentType)
		}
		parentStore, err := e.store(parentType)
		if err != nil {
			return err
		}
		parent, err := parentStore.GetByID(ctx, *cur.ParentID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%s %s is purged: %w", parentType, cur.ParentID, apperrors.ErrAncestorDeleted)
		}
		if err != nil {
			return err
		}
		if parent.TombstonedAt != nil {
			return fmt.Errorf("%s %s is tombstoned: %w", parentType, parent.ID, apperrors.ErrAncestorDeleted)
		}
		curType = parentType
		cur = parent
	}
}

// Purge permanently deletes the Tombstoned root and all of its Tombstoned
// descendants, leaves first, inside one transaction. When the policy
// mandates archiving, every batch is written to the archive sink before
// any delete statement runs; a failed archive aborts the purge for this
// root and the records stay Tombstoned for the next sweep. Reactions are
// never archived.
func (e *CascadeEngine) Purge(ctx context.Context, t models.EntityType, id uuid.UUID, policy models.RetentionPolicy, now time.Time) (models.CascadeResult, error) {
	res := models.NewCascadeResult("purge", t, id)
	store, err := e.store(t)
	if err != nil {
		return res, err
	}

	meta, err := store.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return res, nil // already purged
	}
	if err != nil {
		return res, err
	}
	// Guard: the sweeper verifies these before calling, but purge is the
	// one irreversible transition so the preconditions are re-checked.
	if meta.TombstonedAt == nil {
		return res, fmt.Errorf("%w: %s %s is active and cannot be purged", apperrors.ErrInvalidTransition, t, id)
	}
	if now.Sub(*meta.TombstonedAt) < policy.GracePeriod {
		return res, fmt.Errorf("%w: %s %s tombstoned at %s", apperrors.ErrGraceNotElapsed, t, id, meta.TombstonedAt.Format(time.RFC3339))
	}

	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		// Collect the tombstoned subtree top-down first; deletes run
		// bottom-up afterwards.
		levels := map[models.EntityType][]uuid.UUID{t: {id}}
		recordsByType := make(map[models.EntityType][]models.Record)
		for _, edge := range e.graph.Descendants(t) {
			parents := levels[edge.Parent]
			if len(parents) == 0 {
				continue
			}
			childStore, err := e.store(edge.Child)
			if err != nil {
				return err
			}
			recs, err := childStore.ListTombstonedByParent(ctx, parents)
			if err != nil {
				return err
			}
			ids := make([]uuid.UUID, len(recs))
			for i, rec := range recs {
				ids[i] = rec.ID
			}
			levels[edge.Child] = append(levels[edge.Child], ids...)
			recordsByType[edge.Child] = append(recordsByType[edge.Child], recs...)
		}

		if policy.EnableArchiving {
			rootRec, err := store.GetRecord(ctx, id)
			if err != nil {
				return err
			}
			recordsByType[t] = []models.Record{*rootRec}

			for _, batchType := range append([]models.EntityType{t}, childTypes(e.graph, t)...) {
				if batchType == models.EntityReaction {
					continue // exempt from archival
				}
				recs := recordsByType[batchType]
				if len(recs) == 0 {
					continue
				}
				if err := e.sink.Write(ctx, batchType, recs); err != nil {
					return fmt.Errorf("%w: %s batch for root %s %s: %w", apperrors.ErrArchiveFailure, batchType, t, id, err)
				}
				res.Archived[batchType] += len(recs)
			}
		}

		for _, purgeType := range e.graph.PurgeOrder(t) {
			ids := levels[purgeType]
			if len(ids) == 0 {
				continue
			}
			typeStore, err := e.store(purgeType)
			if err != nil {
				return err
			}
			n, err := typeStore.DeleteByIDs(ctx, ids)
			if err != nil {
				return err
			}
			res.Affected[purgeType] += int(n)
		}
		return nil
	})
	if err != nil {
		return models.NewCascadeResult("purge", t, id), err
	}

	e.logger.Info("Purged record subtree",
		zap.String("entity_type", string(t)),
		zap.String("id", id.String()),
		zap.Int("deleted", res.Total()),
		zap.Int("archived", res.TotalArchived()))
	return res, nil
}

// childTypes returns the descendant types of root in breadth-first order.
func childTypes(g *models.EntityGraph, root models.EntityType) []models.EntityType {
	var types []models.EntityType
	for _, edge := range g.Descendants(root) {
		types = append(types, edge.Child)
	}
	return types
}
