package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

func testRecord(parent *uuid.UUID) models.Record {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return models.Record{
		RecordMeta: models.RecordMeta{
			ID:           uuid.New(),
			ParentID:     parent,
			CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			TombstonedAt: &at,
		},
		Fields: map[string]any{"body": "hello"},
	}
}

func readLines(t *testing.T, path string) []archiveEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []archiveEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e archiveEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	sink.now = func() time.Time { return time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC) }

	parent := uuid.New()
	recs := []models.Record{testRecord(&parent), testRecord(&parent)}
	require.NoError(t, sink.Write(context.Background(), models.EntityComment, recs))

	path := filepath.Join(dir, "comment", "2026-02-15.jsonl")
	entries := readLines(t, path)
	require.Len(t, entries, 2)

	assert.Equal(t, recs[0].ID, entries[0].ID)
	assert.Equal(t, models.EntityComment, entries[0].EntityType)
	require.NotNil(t, entries[0].ParentID)
	assert.Equal(t, parent, *entries[0].ParentID)
	assert.NotNil(t, entries[0].TombstonedAt)
	assert.Equal(t, "hello", entries[0].Fields["body"])
}

func TestFileSinkAppendsAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	sink.now = func() time.Time { return time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, sink.Write(context.Background(), models.EntityUser, []models.Record{testRecord(nil)}))
	require.NoError(t, sink.Write(context.Background(), models.EntityUser, []models.Record{testRecord(nil)}))

	entries := readLines(t, filepath.Join(dir, "user", "2026-02-15.jsonl"))
	assert.Len(t, entries, 2)
}

func TestFileSinkEmptyBatchIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	require.NoError(t, sink.Write(context.Background(), models.EntityUser, nil))

	_, err := os.Stat(filepath.Join(dir, "user"))
	assert.True(t, os.IsNotExist(err))
}
