package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"castline/internal/types"
)

// ErrorLogDB is the error log maintenance surface. Implemented by
// db.ErrorLogRepository.
type ErrorLogDB interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.ErrorLogEntry, error)
	DeleteUpTo(ctx context.Context, maxID int64) (int64, error)
	InsertArchive(ctx context.Context, periodStart, periodEnd time.Time, entryCount int, blob []byte) error
}

// ErrorLogArchiver compacts aged error_logs rows into zstd-compressed
// JSON-lines blobs in error_log_archives. Each Archive call drains in
// bounded batches; the delete for a batch only runs after its archive row
// is committed, so a crash can duplicate archived entries but never lose
// them.
type ErrorLogArchiver struct {
	db     ErrorLogDB
	logger types.Logger
}

// NewErrorLogArchiver creates an archiver.
func NewErrorLogArchiver(db ErrorLogDB, logger types.Logger) *ErrorLogArchiver {
	return &ErrorLogArchiver{db: db, logger: logger}
}

// Archive compacts all entries older than the retention window as of now.
func (a *ErrorLogArchiver) Archive(ctx context.Context, now time.Time) (map[string]any, error) {
	cutoff := now.Add(-errorLogRetention)

	var batches, archived int
	for {
		entries, err := a.db.ListBefore(ctx, cutoff, errorLogArchiveBatch)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		blob, err := compressEntries(entries)
		if err != nil {
			return nil, err
		}

		first, last := entries[0], entries[len(entries)-1]
		if err := a.db.InsertArchive(ctx, first.CreatedAt, last.CreatedAt, len(entries), blob); err != nil {
			return nil, err
		}
		if _, err := a.db.DeleteUpTo(ctx, last.ID); err != nil {
			return nil, err
		}

		batches++
		archived += len(entries)

		// A short batch means the table is drained below the cutoff.
		if len(entries) < errorLogArchiveBatch {
			break
		}
	}

	a.logger.Info("error logs archived", "batches", batches, "entries", archived)
	return map[string]any{"batches": batches, "entries": archived}, nil
}

// compressEntries serializes entries as JSON lines and zstd-compresses the
// result.
func compressEntries(entries []*types.ErrorLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create zstd writer: %w", err)
	}

	jenc := json.NewEncoder(enc)
	for _, e := range entries {
		if err := jenc.Encode(e); err != nil {
			enc.Close()
			return nil, fmt.Errorf("scheduler: encode error log entry: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("scheduler: flush zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}
