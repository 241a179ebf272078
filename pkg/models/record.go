package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordMeta is the lifecycle projection of a single record, independent of
// its entity type. ParentID is nil for root entities (users).
type RecordMeta struct {
	ID           uuid.UUID  `json:"id"`
	ParentID     *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// State derives the lifecycle state from the record's fields. A RecordMeta
// always describes a row that exists, so it never reports StatePurged.
func (m *RecordMeta) State() LifecycleState {
	if m.TombstonedAt != nil {
		return StateTombstoned
	}
	return StateActive
}

// Record is a full row read for archival: the lifecycle projection plus the
// remaining columns keyed by column name.
type Record struct {
	RecordMeta
	Fields map[string]any `json:"fields,omitempty"`
}

// OrphanRef is a child record violating its ownership invariant, as
// returned by the orphan scan. ParentMissing means the parent row is gone
// entirely; otherwise ParentTombstonedAt carries the parent's tombstone
// instant so the repair can reuse it.
type OrphanRef struct {
	ID                 uuid.UUID
	ParentID           uuid.UUID
	TombstonedAt       *time.Time
	ParentMissing      bool
	ParentTombstonedAt *time.Time
}
