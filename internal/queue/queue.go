// Package queue implements the deferred notification pipeline: a durable
// Postgres-backed job queue, a dispatcher that drains it in leased batches,
// and an SQS wake-up trigger that nudges workers after a fan-out. The
// database is the single point of coordination; any number of dispatcher
// replicas may tick concurrently without double-sending.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"castline/internal/types"
)

// Pipeline tuning. MaxAttempts counts total delivery tries per job; the
// lease timeout is how long a 'sending' row stays unclaimable after a
// worker picks it up.
const (
	BatchLimit   = 50
	LeaseTimeout = 5 * time.Minute
	MaxAttempts  = 3
)

// JobRepository is the persistence surface of the pipeline. Implemented by
// db.JobRepository.
type JobRepository interface {
	Enqueue(ctx context.Context, j *types.NotificationJob) (bool, error)
	ClaimBatch(ctx context.Context, date string, limit int, lease time.Duration, now time.Time) ([]*types.NotificationJob, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkSkipped(ctx context.Context, id, reason string, now time.Time) error
	MarkFailure(ctx context.Context, id, reason string, maxAttempts int, now time.Time) (types.JobStatus, error)
}

// Enqueue inserts a queued job for (streamer, date, kind), generating the
// row ID. Duplicate keys are silent no-ops; returns whether a row was
// created.
func Enqueue(ctx context.Context, repo JobRepository, streamerID, date string, kind types.JobKind) (bool, error) {
	return repo.Enqueue(ctx, &types.NotificationJob{
		ID:         uuid.NewString(),
		StreamerID: streamerID,
		Date:       date,
		Kind:       kind,
	})
}
