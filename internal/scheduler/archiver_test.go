package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/types"
)

type archivedBlob struct {
	periodStart time.Time
	periodEnd   time.Time
	entryCount  int
	payload     []byte
}

type fakeErrorLogDB struct {
	entries  []*types.ErrorLogEntry
	archives []archivedBlob
}

func (f *fakeErrorLogDB) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]*types.ErrorLogEntry, error) {
	var out []*types.ErrorLogEntry
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeErrorLogDB) DeleteUpTo(_ context.Context, maxID int64) (int64, error) {
	var kept []*types.ErrorLogEntry
	var deleted int64
	for _, e := range f.entries {
		if e.ID <= maxID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return deleted, nil
}

func (f *fakeErrorLogDB) InsertArchive(_ context.Context, periodStart, periodEnd time.Time, entryCount int, blob []byte) error {
	f.archives = append(f.archives, archivedBlob{
		periodStart: periodStart,
		periodEnd:   periodEnd,
		entryCount:  entryCount,
		payload:     blob,
	})
	return nil
}

func entry(id int64, age time.Duration, now time.Time) *types.ErrorLogEntry {
	return &types.ErrorLogEntry{
		ID:        id,
		Route:     "/api/checkin/submit",
		Method:    "POST",
		Message:   "boom",
		CreatedAt: now.Add(-age),
	}
}

func TestErrorLogArchiver_ArchivesOldEntriesOnly(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeErrorLogDB{entries: []*types.ErrorLogEntry{
		entry(1, 40*24*time.Hour, now),
		entry(2, 35*24*time.Hour, now),
		entry(3, 2*24*time.Hour, now), // fresh, must survive
	}}
	a := NewErrorLogArchiver(db, types.NopLogger{})

	result, err := a.Archive(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, result["batches"])
	assert.Equal(t, 2, result["entries"])
	require.Len(t, db.entries, 1)
	assert.Equal(t, int64(3), db.entries[0].ID)
	require.Len(t, db.archives, 1)
	assert.Equal(t, 2, db.archives[0].entryCount)
}

func TestErrorLogArchiver_NothingToArchive(t *testing.T) {
	now := time.Now()
	db := &fakeErrorLogDB{entries: []*types.ErrorLogEntry{entry(1, time.Hour, now)}}
	a := NewErrorLogArchiver(db, types.NopLogger{})

	result, err := a.Archive(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result["batches"])
	assert.Empty(t, db.archives)
	assert.Len(t, db.entries, 1)
}

func TestErrorLogArchiver_BlobRoundTrips(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeErrorLogDB{entries: []*types.ErrorLogEntry{
		entry(1, 40*24*time.Hour, now),
		entry(2, 39*24*time.Hour, now),
	}}
	a := NewErrorLogArchiver(db, types.NopLogger{})

	_, err := a.Archive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, db.archives, 1)

	dec, err := zstd.NewReader(bytes.NewReader(db.archives[0].payload))
	require.NoError(t, err)
	defer dec.Close()

	var decoded []types.ErrorLogEntry
	jdec := json.NewDecoder(dec)
	for jdec.More() {
		var e types.ErrorLogEntry
		require.NoError(t, jdec.Decode(&e))
		decoded = append(decoded, e)
	}
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(1), decoded[0].ID)
	assert.Equal(t, "/api/checkin/submit", decoded[0].Route)
}
