package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// RecordStore is the generic transactional record-access interface the
// lifecycle engine consumes: one implementation per entity type, resolved
// at construction time, never via runtime string lookup. When the calling
// context carries a transaction (database.WithQuerier), every method runs
// inside it.
type RecordStore interface {
	// EntityType identifies which entity this store serves.
	EntityType() models.EntityType

	// GetByID returns the lifecycle projection of one record, or
	// apperrors.ErrNotFound if the record is absent (purged).
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordMeta, error)

	// GetRecord returns the full row for archival purposes.
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)

	// FindAgedOut returns up to limit Active records created before cutoff,
	// oldest first.
	FindAgedOut(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// FindPastGrace returns up to limit Tombstoned records whose
	// tombstoned_at is before cutoff, oldest first.
	FindPastGrace(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// FindOrphanRefs returns up to limit children violating their
	// ownership invariant, oldest first: the parent row is missing, or the
	// child is still Active while its parent was tombstoned before
	// parentCutoff. Root types return nothing.
	FindOrphanRefs(ctx context.Context, parentCutoff time.Time, limit int) ([]models.OrphanRef, error)

	// TombstoneByID marks one Active record tombstoned at the given
	// instant. Returns false if the record was not Active.
	TombstoneByID(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// RestoreByID clears one record's tombstone. Returns false if the
	// record was not Tombstoned.
	RestoreByID(ctx context.Context, id uuid.UUID) (bool, error)

	// TombstoneByParent tombstones all currently-Active children of the
	// given parents at the given instant, returning the affected IDs.
	TombstoneByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// RestoreByParent restores children of the given parents whose
	// tombstone instant equals at exactly, returning the affected IDs.
	// Children tombstoned independently at a different instant are left
	// alone.
	RestoreByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// ListTombstonedByParent returns the full rows of Tombstoned children
	// of the given parents, for archival ahead of deletion.
	ListTombstonedByParent(ctx context.Context, parents []uuid.UUID) ([]models.Record, error)

	// DeleteByIDs permanently removes the given records, returning the
	// number of rows deleted.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	// Stats aggregates lifecycle counts; graceCutoff determines purge
	// eligibility (tombstoned_at < graceCutoff).
	Stats(ctx context.Context, graceCutoff time.Time) (models.RetentionStats, error)
}
