package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
)

// memRecord is one row in the in-memory store.
type memRecord struct {
	meta   models.RecordMeta
	fields map[string]any
}

// memStore is an in-memory RecordStore used to exercise the lifecycle
// services without a database. Behavior mirrors the SQL implementation:
// absence is the purged state, tombstone-by-parent only touches active
// children, restore-by-parent matches the tombstone instant exactly, the
// orphan scan anti-joins the parent store, and deletes enforce the
// schema's ownership foreign keys.
type memStore struct {
	entityType models.EntityType
	records    map[uuid.UUID]*memRecord
	parent     *memStore
	children   []*memStore

	// Per-method injected failures.
	findAgedOutErr   error
	findPastGraceErr error
	findOrphansErr   error
	deleteErr        error
	tombstoneErrFor  map[uuid.UUID]error
}

var _ repositories.RecordStore = (*memStore)(nil)

func newMemStore(t models.EntityType) *memStore {
	return &memStore{
		entityType:      t,
		records:         make(map[uuid.UUID]*memRecord),
		tombstoneErrFor: make(map[uuid.UUID]error),
	}
}

func (s *memStore) put(id uuid.UUID, parentID *uuid.UUID, createdAt time.Time, tombstonedAt *time.Time) {
	s.records[id] = &memRecord{
		meta: models.RecordMeta{
			ID:           id,
			ParentID:     parentID,
			CreatedAt:    createdAt,
			TombstonedAt: tombstonedAt,
		},
		fields: map[string]any{"body": "fixture"},
	}
}

func (s *memStore) EntityType() models.EntityType { return s.entityType }

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.RecordMeta, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	meta := rec.meta
	return &meta, nil
}

func (s *memStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &models.Record{RecordMeta: rec.meta, Fields: rec.fields}, nil
}

func (s *memStore) FindAgedOut(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if s.findAgedOutErr != nil {
		return nil, s.findAgedOutErr
	}
	var matched []*memRecord
	for _, rec := range s.records {
		if rec.meta.TombstonedAt == nil && rec.meta.CreatedAt.Before(cutoff) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].meta.CreatedAt.Before(matched[j].meta.CreatedAt) })
	ids := make([]uuid.UUID, 0, len(matched))
	for _, rec := range matched {
		if len(ids) == limit {
			break
		}
		ids = append(ids, rec.meta.ID)
	}
	return ids, nil
}

func (s *memStore) FindPastGrace(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if s.findPastGraceErr != nil {
		return nil, s.findPastGraceErr
	}
	var matched []*memRecord
	for _, rec := range s.records {
		if rec.meta.TombstonedAt != nil && rec.meta.TombstonedAt.Before(cutoff) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].meta.TombstonedAt.Before(*matched[j].meta.TombstonedAt) })
	ids := make([]uuid.UUID, 0, len(matched))
	for _, rec := range matched {
		if len(ids) == limit {
			break
		}
		ids = append(ids, rec.meta.ID)
	}
	return ids, nil
}

func (s *memStore) FindOrphanRefs(ctx context.Context, parentCutoff time.Time, limit int) ([]models.OrphanRef, error) {
	if s.findOrphansErr != nil {
		return nil, s.findOrphansErr
	}
	if s.parent == nil {
		return nil, nil
	}

	var matched []*memRecord
	for _, rec := range s.records {
		if rec.meta.ParentID == nil {
			continue
		}
		parentRec, ok := s.parent.records[*rec.meta.ParentID]
		switch {
		case !ok:
			matched = append(matched, rec)
		case rec.meta.TombstonedAt == nil && parentRec.meta.TombstonedAt != nil &&
			parentRec.meta.TombstonedAt.Before(parentCutoff):
			matched = append(matched, rec)
		}
	}
	// Oldest first, then truncate, like the SQL window.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].meta.CreatedAt.Equal(matched[j].meta.CreatedAt) {
			return matched[i].meta.CreatedAt.Before(matched[j].meta.CreatedAt)
		}
		return matched[i].meta.ID.String() < matched[j].meta.ID.String()
	})

	refs := make([]models.OrphanRef, 0, len(matched))
	for _, rec := range matched {
		if len(refs) == limit {
			break
		}
		ref := models.OrphanRef{
			ID:           rec.meta.ID,
			ParentID:     *rec.meta.ParentID,
			TombstonedAt: rec.meta.TombstonedAt,
		}
		if parentRec, ok := s.parent.records[ref.ParentID]; ok {
			ref.ParentTombstonedAt = parentRec.meta.TombstonedAt
		} else {
			ref.ParentMissing = true
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *memStore) TombstoneByID(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if err := s.tombstoneErrFor[id]; err != nil {
		return false, err
	}
	rec, ok := s.records[id]
	if !ok || rec.meta.TombstonedAt != nil {
		return false, nil
	}
	t := at
	rec.meta.TombstonedAt = &t
	return true, nil
}

func (s *memStore) RestoreByID(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, ok := s.records[id]
	if !ok || rec.meta.TombstonedAt == nil {
		return false, nil
	}
	rec.meta.TombstonedAt = nil
	return true, nil
}

func (s *memStore) TombstoneByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	parentSet := toSet(parents)
	var ids []uuid.UUID
	for _, rec := range s.records {
		if rec.meta.ParentID == nil || !parentSet[*rec.meta.ParentID] || rec.meta.TombstonedAt != nil {
			continue
		}
		if err := s.tombstoneErrFor[rec.meta.ID]; err != nil {
			return nil, err
		}
		t := at
		rec.meta.TombstonedAt = &t
		ids = append(ids, rec.meta.ID)
	}
	return ids, nil
}

func (s *memStore) RestoreByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	parentSet := toSet(parents)
	var ids []uuid.UUID
	for _, rec := range s.records {
		if rec.meta.ParentID == nil || !parentSet[*rec.meta.ParentID] {
			continue
		}
		if rec.meta.TombstonedAt == nil || !rec.meta.TombstonedAt.Equal(at) {
			continue
		}
		rec.meta.TombstonedAt = nil
		ids = append(ids, rec.meta.ID)
	}
	return ids, nil
}

func (s *memStore) ListTombstonedByParent(ctx context.Context, parents []uuid.UUID) ([]models.Record, error) {
	parentSet := toSet(parents)
	var recs []models.Record
	for _, rec := range s.records {
		if rec.meta.ParentID == nil || !parentSet[*rec.meta.ParentID] || rec.meta.TombstonedAt == nil {
			continue
		}
		recs = append(recs, models.Record{RecordMeta: rec.meta, Fields: rec.fields})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID.String() < recs[j].ID.String() })
	return recs, nil
}

func (s *memStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	// Ownership columns are foreign keys; deleting a still-referenced row
	// fails the statement like it would in Postgres.
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			continue
		}
		for _, child := range s.children {
			for _, rec := range child.records {
				if rec.meta.ParentID != nil && *rec.meta.ParentID == id {
					return 0, fmt.Errorf("delete %s %s: still referenced by %s %s", s.entityType, id, child.entityType, rec.meta.ID)
				}
			}
		}
	}
	var n int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Stats(ctx context.Context, graceCutoff time.Time) (models.RetentionStats, error) {
	var stats models.RetentionStats
	for _, rec := range s.records {
		stats.Total++
		if rec.meta.TombstonedAt == nil {
			stats.Active++
			continue
		}
		stats.Tombstoned++
		if rec.meta.TombstonedAt.Before(graceCutoff) {
			stats.EligibleForPurge++
		}
	}
	return stats, nil
}

func toSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// snapshot captures a deep copy of the store's rows.
func (s *memStore) snapshot() map[uuid.UUID]*memRecord {
	snap := make(map[uuid.UUID]*memRecord, len(s.records))
	for id, rec := range s.records {
		meta := rec.meta
		if rec.meta.TombstonedAt != nil {
			t := *rec.meta.TombstonedAt
			meta.TombstonedAt = &t
		}
		snap[id] = &memRecord{meta: meta, fields: rec.fields}
	}
	return snap
}

// memTxRunner gives the in-memory stores transactional semantics: it
// snapshots every store before the function runs and restores the
// snapshots if it fails, so rollback behavior can be asserted in tests.
type memTxRunner struct {
	stores   map[models.EntityType]*memStore
	beginErr error
}

var _ TxRunner = (*memTxRunner)(nil)

func (r *memTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.beginErr != nil {
		return r.beginErr
	}
	snaps := make(map[models.EntityType]map[uuid.UUID]*memRecord, len(r.stores))
	for t, s := range r.stores {
		snaps[t] = s.snapshot()
	}
	if err := fn(ctx); err != nil {
		for t, s := range r.stores {
			s.records = snaps[t]
		}
		return err
	}
	return nil
}

// captureSink records archive batches in memory and can be told to fail.
type captureSink struct {
	batches map[models.EntityType][][]models.Record
	err     error
}

func newCaptureSink() *captureSink {
	return &captureSink{batches: make(map[models.EntityType][][]models.Record)}
}

func (s *captureSink) Write(ctx context.Context, entityType models.EntityType, records []models.Record) error {
	if s.err != nil {
		return s.err
	}
	s.batches[entityType] = append(s.batches[entityType], records)
	return nil
}

func (s *captureSink) total(t models.EntityType) int {
	n := 0
	for _, batch := range s.batches[t] {
		n += len(batch)
	}
	return n
}
