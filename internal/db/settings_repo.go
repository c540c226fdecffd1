package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"castline/internal/types"
)

// SettingsRepository provides data access for message_settings (operator
// overrides of outbound texts) and cron_settings (per-task kill switches
// and run records).
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository backed by the given
// database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// MessageOverrides returns all message text overrides as a key/value map.
func (r *SettingsRepository) MessageOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM message_settings`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load message settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating message settings", err)
	}
	return out, nil
}

// SetMessageOverride upserts one message text override. An empty value
// deletes the override, restoring the compiled-in default.
func (r *SettingsRepository) SetMessageOverride(ctx context.Context, key, value string) error {
	if value == "" {
		_, err := r.db.Exec(ctx, `DELETE FROM message_settings WHERE key = $1`, key)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to clear message setting", err)
		}
		return nil
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO message_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set message setting", err)
	}
	return nil
}

// GetCronSetting fetches the switch row for a scheduled task. A missing row
// means the task has never been touched by an operator and runs enabled.
func (r *SettingsRepository) GetCronSetting(ctx context.Context, jobKey string) (*types.CronSetting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT job_key, enabled, last_run_at, last_result, updated_at
		 FROM cron_settings WHERE job_key = $1`, jobKey)

	var (
		cs         types.CronSetting
		resultJSON []byte
	)
	err := row.Scan(&cs.JobKey, &cs.Enabled, &cs.LastRunAt, &resultJSON, &cs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.CronSetting{JobKey: jobKey, Enabled: true}, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get cron setting", err)
	}
	if len(resultJSON) > 0 {
		// Best effort; a malformed record must not block the task itself.
		_ = json.Unmarshal(resultJSON, &cs.LastResult)
	}
	return &cs, nil
}

// RecordCronRun upserts the run record for a scheduled task, preserving the
// enabled flag of an existing row.
func (r *SettingsRepository) RecordCronRun(ctx context.Context, jobKey string, ranAt time.Time, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte("{}")
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO cron_settings (job_key, enabled, last_run_at, last_result, updated_at)
		 VALUES ($1, TRUE, $2, $3, $2)
		 ON CONFLICT (job_key) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_result = EXCLUDED.last_result,
			updated_at = EXCLUDED.updated_at`,
		jobKey, ranAt, resultJSON)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record cron run", err)
	}
	return nil
}
