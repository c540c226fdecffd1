// Package types holds the shared domain model for the castline platform:
// entities, enums, JSONB wrappers, the application error type, and the small
// interfaces (Clock, Logger) threaded through every component.
package types

import "time"

// Streamer is the talent entity being tracked. Created on registration,
// mutated by staff edits and the monthly level refresh, never hard-deleted
// by the core.
type Streamer struct {
	ID            string
	DisplayName   string
	ChatUserID    string
	Status        StreamerStatus
	NotifyEnabled bool
	LevelCurrent  int
	LevelOverride *int
	Notes         string
	CreatedAt     time.Time
}

// EffectiveLevel resolves the level used for template selection and
// notification eligibility. A manual override always wins.
func (s *Streamer) EffectiveLevel() int {
	if s.LevelOverride != nil {
		return *s.LevelOverride
	}
	return s.LevelCurrent
}

// Notifiable reports whether the streamer is eligible for outbound check-in
// notifications: active, opted in, and at a resolved, non-graduated level.
func (s *Streamer) Notifiable() bool {
	if s.Status != StreamerActive || !s.NotifyEnabled {
		return false
	}
	lvl := s.EffectiveLevel()
	return lvl != LevelUnset && lvl != LevelGraduated
}

// CheckinToken is a single-use, time-boxed access token bound to
// (streamer, business date). Only the SHA-256 hash of the raw token is
// persisted; the raw value is returned to the caller exactly once at
// issuance and is unrecoverable afterward.
type CheckinToken struct {
	ID         string
	StreamerID string
	Date       string // business date, YYYY-MM-DD
	TokenHash  string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// Consumed reports whether the token has authorized a submission.
func (t *CheckinToken) Consumed() bool { return t.UsedAt != nil }

// SelfCheck is a streamer's daily self-assessment record together with the
// classifier output computed at submission time. Unique on (streamer, date);
// a retried submission overwrites rather than duplicates.
type SelfCheck struct {
	ID               string
	StreamerID       string
	Date             string
	TemplateID       string
	Answers          AnswerMap
	Memo             string
	OverallScore     int
	OutcomeLevel     OutcomeLevel
	WeakArea         WeakArea
	Comment          string
	NextAction       string
	NegativeDetected bool
	CreatedAt        time.Time
}

// NotificationJob is a durable work item in the deferred send pipeline.
// Unique on (streamer, date, kind); enqueue of an existing key is a no-op.
// Only the dispatcher mutates job rows, and terminal rows are retained for
// audit, never deleted.
type NotificationJob struct {
	ID         string
	StreamerID string
	Date       string
	Kind       JobKind
	Status     JobStatus
	Attempts   int
	LastError  string
	LockedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CheckinTemplate is a questionnaire template. The active template whose
// ForLevel matches the streamer's effective level applies; the first active
// template is the fallback.
type CheckinTemplate struct {
	ID        string
	Name      string
	Version   string
	IsActive  bool
	ForLevel  int
	Schema    TemplateSchema
	CreatedAt time.Time
}

// TemplateField is a single question in a template schema.
type TemplateField struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// DailyEarning records a streamer's reported earnings for one business day.
// Unique on (streamer, date); resubmission overwrites.
type DailyEarning struct {
	StreamerID       string
	Date             string
	Diamonds         int64
	StreamingMinutes int
}

// CronSetting is the operator-controlled switch and run record for one
// scheduled task. A missing row means the task is enabled.
type CronSetting struct {
	JobKey     string
	Enabled    bool
	LastRunAt  *time.Time
	LastResult map[string]any
	UpdatedAt  time.Time
}

// ErrorLogEntry is a captured handler-layer failure. Entries older than the
// retention window are compacted into error_log_archives.
type ErrorLogEntry struct {
	ID        int64
	Route     string
	Method    string
	Message   string
	Detail    map[string]any
	CreatedAt time.Time
}
