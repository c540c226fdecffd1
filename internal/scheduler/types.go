// Package scheduler implements the scheduled task layer: the daily check-in
// fan-out, dispatch ticks, and maintenance jobs, multiplexed behind a
// single task payload so one worker binary serves every schedule.
package scheduler

import "time"

// TaskType identifies which scheduled task an invocation should run. Each
// constant maps to one Service method.
type TaskType string

const (
	// TaskDailyFanout enqueues one daily check-in job per eligible streamer
	// for the current business date.
	TaskDailyFanout TaskType = "daily_fanout"

	// TaskDispatchTick runs one dispatcher batch against the job queue.
	TaskDispatchTick TaskType = "dispatch_tick"

	// TaskPurgeExpiredTokens removes token rows past the retention window.
	TaskPurgeExpiredTokens TaskType = "purge_expired_tokens"

	// TaskArchiveErrorLogs compacts old error_logs rows into compressed
	// archive blobs.
	TaskArchiveErrorLogs TaskType = "archive_error_logs"

	// TaskRefreshLevels recomputes streamer levels from the previous
	// month's reported earnings.
	TaskRefreshLevels TaskType = "refresh_levels"
)

// Payload is the JSON body sent by EventBridge rules (or the self-hosted
// cron runner) to the scheduler worker. ReferenceTime lets manual
// invocations pin "now" for deterministic reruns and backfills; when nil,
// wall-clock time is used.
type Payload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
