package db

import (
	"context"
	"encoding/json"
	"time"

	"castline/internal/types"
)

// ErrorLogRepository provides data access for error_logs and the compacted
// error_log_archives table.
type ErrorLogRepository struct {
	db DBTX
}

// NewErrorLogRepository creates a new ErrorLogRepository backed by the given
// database connection (pool or transaction).
func NewErrorLogRepository(db DBTX) *ErrorLogRepository {
	return &ErrorLogRepository{db: db}
}

// Insert records a captured failure. Logging must never fail the request
// it describes, so callers typically ignore the returned error after
// logging it.
func (r *ErrorLogRepository) Insert(ctx context.Context, e *types.ErrorLogEntry) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		detailJSON = []byte("{}")
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO error_logs (route, method, message, detail)
		 VALUES ($1, $2, $3, $4)`,
		e.Route, e.Method, e.Message, detailJSON)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert error log", err)
	}
	return nil
}

// ListBefore returns entries older than the cutoff, oldest first, up to
// limit. The archiver drains with repeated calls.
func (r *ErrorLogRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.ErrorLogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, route, method, message, detail, created_at
		 FROM error_logs
		 WHERE created_at < $1
		 ORDER BY id
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list error logs", err)
	}
	defer rows.Close()

	var out []*types.ErrorLogEntry
	for rows.Next() {
		var (
			e          types.ErrorLogEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Route, &e.Method, &e.Message, &detailJSON, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan error log row", err)
		}
		if len(detailJSON) > 0 {
			_ = json.Unmarshal(detailJSON, &e.Detail)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating error log rows", err)
	}
	return out, nil
}

// DeleteUpTo removes archived entries by ID watermark. Called after the
// compacted blob for those rows has been committed.
func (r *ErrorLogRepository) DeleteUpTo(ctx context.Context, maxID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM error_logs WHERE id <= $1`, maxID)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived error logs", err)
	}
	return tag.RowsAffected(), nil
}

// InsertArchive stores one compressed archive blob covering the given
// period and entry count.
func (r *ErrorLogRepository) InsertArchive(ctx context.Context, periodStart, periodEnd time.Time, entryCount int, blob []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO error_log_archives (period_start, period_end, entry_count, payload)
		 VALUES ($1, $2, $3, $4)`,
		periodStart, periodEnd, entryCount, blob)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert error log archive", err)
	}
	return nil
}
