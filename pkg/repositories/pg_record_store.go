package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/database"
	"github.com/waypost-app/waypost-engine/pkg/models"
)

// tableDescriptor is the static storage mapping for one entity type. All
// identifiers are compile-time constants; SQL is assembled once at
// construction, never from runtime input.
type tableDescriptor struct {
	entityType   models.EntityType
	table        string
	parentColumn string // empty for root types
	parentTable  string // empty for root types
	fields       []string
}

// descriptors maps the entity graph onto the relational schema.
var descriptors = []tableDescriptor{
	{models.EntityUser, "users", "", "", []string{"email", "display_name"}},
	{models.EntityExperience, "experiences", "user_id", "users", []string{"title", "description"}},
	{models.EntityPrompt, "prompts", "experience_id", "experiences", []string{"content", "position"}},
	{models.EntityComment, "comments", "experience_id", "experiences", []string{"user_id", "body"}},
	{models.EntityReaction, "reactions", "experience_id", "experiences", []string{"user_id", "kind"}},
	{models.EntityPromptRating, "prompt_ratings", "prompt_id", "prompts", []string{"user_id", "score"}},
}

// NewRecordStores builds the per-entity-type dispatch table over the given
// database.
func NewRecordStores(db *database.DB) map[models.EntityType]RecordStore {
	stores := make(map[models.EntityType]RecordStore, len(descriptors))
	for _, d := range descriptors {
		stores[d.entityType] = &pgRecordStore{db: db, desc: d}
	}
	return stores
}

// pgRecordStore implements RecordStore on PostgreSQL for one table.
type pgRecordStore struct {
	db   *database.DB
	desc tableDescriptor
}

var _ RecordStore = (*pgRecordStore)(nil)

// q resolves the querier: the ambient transaction when one is in the
// context, the pool otherwise.
func (s *pgRecordStore) q(ctx context.Context) database.Querier {
	if q, ok := database.QuerierFrom(ctx); ok {
		return q
	}
	return s.db.Pool
}

func (s *pgRecordStore) EntityType() models.EntityType {
	return s.desc.entityType
}

func (s *pgRecordStore) GetByID(ctx context.Context, id uuid.UUID) (*models.RecordMeta, error) {
	meta := models.RecordMeta{ID: id}
	var err error
	if s.desc.parentColumn == "" {
		query := fmt.Sprintf(`SELECT created_at, tombstoned_at FROM %s WHERE id = $1`, s.desc.table)
		err = s.q(ctx).QueryRow(ctx, query, id).Scan(&meta.CreatedAt, &meta.TombstonedAt)
	} else {
		query := fmt.Sprintf(`SELECT %s, created_at, tombstoned_at FROM %s WHERE id = $1`, s.desc.parentColumn, s.desc.table)
		var parentID uuid.UUID
		err = s.q(ctx).QueryRow(ctx, query, id).Scan(&parentID, &meta.CreatedAt, &meta.TombstonedAt)
		meta.ParentID = &parentID
	}
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.desc.entityType, err)
	}
	return &meta, nil
}

func (s *pgRecordStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, s.recordColumns(), s.desc.table)
	rows, err := s.q(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", s.desc.entityType, err)
	}
	defer rows.Close()

	recs, err := s.scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &recs[0], nil
}

func (s *pgRecordStore) FindAgedOut(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE tombstoned_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, s.desc.table)
	return s.queryIDs(ctx, query, cutoff, limit)
}

func (s *pgRecordStore) FindPastGrace(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE tombstoned_at IS NOT NULL AND tombstoned_at < $1
		ORDER BY tombstoned_at
		LIMIT $2`, s.desc.table)
	return s.queryIDs(ctx, query, cutoff, limit)
}

func (s *pgRecordStore) FindOrphanRefs(ctx context.Context, parentCutoff time.Time, limit int) ([]models.OrphanRef, error) {
	if s.desc.parentColumn == "" {
		return nil, nil
	}

	// Anti-join: the limit applies to actual violations, so a backlog of
	// healthy rows cannot starve the scan.
	query := fmt.Sprintf(`
		SELECT c.id, c.%s, c.tombstoned_at, p.id IS NULL, p.tombstoned_at
		FROM %s c
		LEFT JOIN %s p ON p.id = c.%s
		WHERE p.id IS NULL
		   OR (c.tombstoned_at IS NULL AND p.tombstoned_at < $1)
		ORDER BY c.created_at
		LIMIT $2`, s.desc.parentColumn, s.desc.table, s.desc.parentTable, s.desc.parentColumn)
	rows, err := s.q(ctx).Query(ctx, query, parentCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned %s refs: %w", s.desc.entityType, err)
	}
	defer rows.Close()

	var refs []models.OrphanRef
	for rows.Next() {
		var ref models.OrphanRef
		if err := rows.Scan(&ref.ID, &ref.ParentID, &ref.TombstonedAt, &ref.ParentMissing, &ref.ParentTombstonedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s ref: %w", s.desc.entityType, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s refs: %w", s.desc.entityType, err)
	}
	return refs, nil
}

func (s *pgRecordStore) TombstoneByID(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET tombstoned_at = $1 WHERE id = $2 AND tombstoned_at IS NULL`, s.desc.table)
	tag, err := s.q(ctx).Exec(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to tombstone %s: %w", s.desc.entityType, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgRecordStore) RestoreByID(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET tombstoned_at = NULL WHERE id = $1 AND tombstoned_at IS NOT NULL`, s.desc.table)
	tag, err := s.q(ctx).Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to restore %s: %w", s.desc.entityType, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgRecordStore) TombstoneByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if s.desc.parentColumn == "" || len(parents) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		UPDATE %s SET tombstoned_at = $1
		WHERE %s = ANY($2::uuid[]) AND tombstoned_at IS NULL
		RETURNING id`, s.desc.table, s.desc.parentColumn)
	rows, err := s.q(ctx).Query(ctx, query, at, uuidStrings(parents))
	if err != nil {
		return nil, fmt.Errorf("failed to cascade tombstone to %s: %w", s.desc.entityType, err)
	}
	defer rows.Close()
	return scanIDs(rows, s.desc.entityType)
}

func (s *pgRecordStore) RestoreByParent(ctx context.Context, parents []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if s.desc.parentColumn == "" || len(parents) == 0 {
		return nil, nil
	}

	// Equality on tombstoned_at restricts restore to children tombstoned
	// by the same cascade; independently tombstoned children keep their
	// tombstone.
	query := fmt.Sprintf(`
		UPDATE %s SET tombstoned_at = NULL
		WHERE %s = ANY($2::uuid[]) AND tombstoned_at = $1
		RETURNING id`, s.desc.table, s.desc.parentColumn)
	rows, err := s.q(ctx).Query(ctx, query, at, uuidStrings(parents))
	if err != nil {
		return nil, fmt.Errorf("failed to cascade restore to %s: %w", s.desc.entityType, err)
	}
	defer rows.Close()
	return scanIDs(rows, s.desc.entityType)
}

func (s *pgRecordStore) ListTombstonedByParent(ctx context.Context, parents []uuid.UUID) ([]models.Record, error) {
	if s.desc.parentColumn == "" || len(parents) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = ANY($1::uuid[]) AND tombstoned_at IS NOT NULL`,
		s.recordColumns(), s.desc.table, s.desc.parentColumn)
	rows, err := s.q(ctx).Query(ctx, query, uuidStrings(parents))
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstoned %s: %w", s.desc.entityType, err)
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

func (s *pgRecordStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1::uuid[])`, s.desc.table)
	tag, err := s.q(ctx).Exec(ctx, query, uuidStrings(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", s.desc.entityType, err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgRecordStore) Stats(ctx context.Context, graceCutoff time.Time) (models.RetentionStats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE tombstoned_at IS NULL),
			COUNT(*) FILTER (WHERE tombstoned_at IS NOT NULL),
			COUNT(*) FILTER (WHERE tombstoned_at IS NOT NULL AND tombstoned_at < $1)
		FROM %s`, s.desc.table)

	var stats models.RetentionStats
	err := s.q(ctx).QueryRow(ctx, query, graceCutoff).Scan(
		&stats.Total,
		&stats.Active,
		&stats.Tombstoned,
		&stats.EligibleForPurge,
	)
	if err != nil {
		return models.RetentionStats{}, fmt.Errorf("failed to get %s stats: %w", s.desc.entityType, err)
	}
	return stats, nil
}

// recordColumns is the full column list for archival reads: lifecycle
// columns first, domain fields after.
func (s *pgRecordStore) recordColumns() string {
	cols := []string{"id"}
	if s.desc.parentColumn != "" {
		cols = append(cols, s.desc.parentColumn)
	}
	cols = append(cols, "created_at", "tombstoned_at")
	cols = append(cols, s.desc.fields...)
	return strings.Join(cols, ", ")
}

func (s *pgRecordStore) scanRecords(rows pgx.Rows) ([]models.Record, error) {
	var recs []models.Record
	for rows.Next() {
		rec := models.Record{Fields: make(map[string]any, len(s.desc.fields))}
		fieldVals := make([]any, len(s.desc.fields))

		dest := []any{&rec.ID}
		var parentID uuid.UUID
		if s.desc.parentColumn != "" {
			dest = append(dest, &parentID)
		}
		dest = append(dest, &rec.CreatedAt, &rec.TombstonedAt)
		for i := range fieldVals {
			dest = append(dest, &fieldVals[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", s.desc.entityType, err)
		}
		if s.desc.parentColumn != "" {
			p := parentID
			rec.ParentID = &p
		}
		for i, name := range s.desc.fields {
			rec.Fields[name] = fieldVals[i]
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", s.desc.entityType, err)
	}
	return recs, nil
}

func (s *pgRecordStore) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s ids: %w", s.desc.entityType, err)
	}
	defer rows.Close()
	return scanIDs(rows, s.desc.entityType)
}

func scanIDs(rows pgx.Rows, t models.EntityType) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", t, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s ids: %w", t, err)
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
