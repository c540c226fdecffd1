package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"castline/internal/types"
)

// JobRepository provides data access for the notification_jobs table, the
// durable queue behind the send pipeline. Claiming is lease-based: a batch
// claim atomically flips rows to 'sending' and stamps locked_at, and a
// 'sending' row whose lock has aged past the lease timeout is claimable
// again. Correctness does not depend on how many workers run.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, streamer_id, date, kind, status, attempts, last_error,
	locked_at, created_at, updated_at`

// Enqueue inserts a queued job for (streamer, date, kind). Inserting an
// existing key is a silent no-op; enqueue is idempotent by design so the
// daily fan-out can rerun safely. Returns whether a new row was created.
func (r *JobRepository) Enqueue(ctx context.Context, j *types.NotificationJob) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO notification_jobs (id, streamer_id, date, kind, status)
		 VALUES ($1, $2, $3, $4, 'queued')
		 ON CONFLICT (streamer_id, date, kind) DO NOTHING`,
		j.ID, j.StreamerID, j.Date, string(j.Kind))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue notification job", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimBatch atomically claims up to limit dispatchable jobs for one
// business date: queued rows, plus sending rows whose lock is older than
// the lease timeout (a worker died mid-send). Claimed rows flip to
// 'sending' with a fresh locked_at. Rows dated outside the given date are
// never claimed; their check-in links would already be past expiry.
//
// FOR UPDATE SKIP LOCKED in the inner select keeps concurrent claimers from
// blocking on or double-claiming the same rows; two workers ticking at once
// get disjoint batches.
func (r *JobRepository) ClaimBatch(ctx context.Context, date string, limit int, lease time.Duration, now time.Time) ([]*types.NotificationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	staleBefore := now.Add(-lease)

	rows, err := r.db.Query(ctx,
		`UPDATE notification_jobs
		 SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE date = $2
			  AND (status = 'queued'
			   OR (status = 'sending' AND locked_at < $3))
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now, date, staleBefore, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job batch", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkSent records a successful delivery. Terminal.
func (r *JobRepository) MarkSent(ctx context.Context, id string, now time.Time) error {
	return r.finish(ctx, id, types.JobSent, "", now)
}

// MarkSkipped records that the recipient was ineligible at send time.
// Terminal; reason lands in last_error for the audit trail.
func (r *JobRepository) MarkSkipped(ctx context.Context, id, reason string, now time.Time) error {
	return r.finish(ctx, id, types.JobSkipped, reason, now)
}

// MarkFailure records a failed attempt. The attempt counter increments and
// the job returns to 'queued' for a later tick, until the cap is reached,
// at which point the row goes terminal 'failed'. The status CASE keys off
// the post-increment count so the cap applies to total attempts made.
func (r *JobRepository) MarkFailure(ctx context.Context, id, reason string, maxAttempts int, now time.Time) (types.JobStatus, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE notification_jobs
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_at = NULL,
		     updated_at = $2,
		     status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'queued' END
		 WHERE id = $4
		 RETURNING status`,
		reason, now, maxAttempts, id)

	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to record job failure", err)
	}
	return types.JobStatus(status), nil
}

// ListForDate returns all jobs for a business date, newest kind grouping
// first. Powers the operator jobs view.
func (r *JobRepository) ListForDate(ctx context.Context, date string) ([]*types.NotificationJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE date = $1
		 ORDER BY kind, created_at`, date)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs for date", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountByStatus aggregates job counts per status for a business date.
func (r *JobRepository) CountByStatus(ctx context.Context, date string) (map[types.JobStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_jobs WHERE date = $1 GROUP BY status`, date)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs", err)
	}
	defer rows.Close()

	out := map[types.JobStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job count row", err)
		}
		out[types.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job count rows", err)
	}
	return out, nil
}

func (r *JobRepository) finish(ctx context.Context, id string, status types.JobStatus, reason string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = $1, last_error = $2, locked_at = NULL, updated_at = $3
		 WHERE id = $4`,
		string(status), nilIfEmpty(reason), now, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", nil)
	}
	return nil
}

func collectJobs(rows pgx.Rows) ([]*types.NotificationJob, error) {
	var out []*types.NotificationJob
	for rows.Next() {
		var (
			j         types.NotificationJob
			kind      string
			status    string
			lastError *string
		)
		err := rows.Scan(&j.ID, &j.StreamerID, &j.Date, &kind, &status, &j.Attempts,
			&lastError, &j.LockedAt, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", err)
		}
		j.Kind = types.JobKind(kind)
		j.Status = types.JobStatus(status)
		if lastError != nil {
			j.LastError = *lastError
		}
		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job rows", err)
	}
	return out, nil
}
