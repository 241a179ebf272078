package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// FileSink appends archived records as JSON lines under
// <dir>/<entity type>/<date>.jsonl. One line per record, fsynced per
// batch, so a crash after Write returns cannot lose an acknowledged batch.
type FileSink struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileSink creates a file-backed archive sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

var _ Sink = (*FileSink)(nil)

// archiveEntry is the JSONL line format.
type archiveEntry struct {
	ID           uuid.UUID         `json:"id"`
	EntityType   models.EntityType `json:"entity_type"`
	ParentID     *uuid.UUID        `json:"parent_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	TombstonedAt *time.Time        `json:"tombstoned_at,omitempty"`
	ArchivedAt   time.Time         `json:"archived_at"`
	Fields       map[string]any    `json:"fields,omitempty"`
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, entityType models.EntityType, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	typeDir := filepath.Join(s.dir, string(entityType))
	if err := os.MkdirAll(typeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	now := s.now().UTC()
	path := filepath.Join(typeDir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		entry := archiveEntry{
			ID:           rec.ID,
			EntityType:   entityType,
			ParentID:     rec.ParentID,
			CreatedAt:    rec.CreatedAt,
			TombstonedAt: rec.TombstonedAt,
			ArchivedAt:   now,
			Fields:       rec.Fields,
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode archive entry: %w", err)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	return nil
}
