package types

// StreamerStatus represents the lifecycle state of a streamer.
type StreamerStatus string

const (
	StreamerActive    StreamerStatus = "active"
	StreamerPaused    StreamerStatus = "paused"
	StreamerGraduated StreamerStatus = "graduated"
	StreamerDropped   StreamerStatus = "dropped"
)

// JobKind identifies the kind of notification job. The set is closed; the
// dispatcher registers one message resolver per kind.
type JobKind string

const (
	JobDailyCheckin  JobKind = "daily_checkin"
	JobCheckinThanks JobKind = "checkin_thanks"
)

// JobStatus enumerates all valid states for a notification job.
// These values MUST match the CHECK constraint on notification_jobs.
//
// Transitions: queued -> sending -> sent | failed | queued (retry).
// queued/sending -> skipped when the recipient is ineligible.
// sent, failed, and skipped are terminal. A sending job whose lock is older
// than the lease timeout is claimable again.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobSending JobStatus = "sending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
	JobSkipped JobStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobFailed || s == JobSkipped
}

// OutcomeLevel is the 5-tier classification of a day's self-assessment,
// ordered best to worst.
type OutcomeLevel string

const (
	OutcomeVeryGood OutcomeLevel = "very_good"
	OutcomeGood     OutcomeLevel = "good"
	OutcomeNormal   OutcomeLevel = "normal"
	OutcomeBad      OutcomeLevel = "bad"
	OutcomeVeryBad  OutcomeLevel = "very_bad"
)

// WeakArea identifies which phase of streaming activity scored worst.
// Question keys are tagged by prefix convention: "pre_", "live_", "post_".
type WeakArea string

const (
	WeakPre  WeakArea = "pre"
	WeakLive WeakArea = "live"
	WeakPost WeakArea = "post"
)

// FieldType is the answer type of a questionnaire template field.
type FieldType string

const (
	FieldBoolean FieldType = "boolean"
	FieldText    FieldType = "text"
)

// LevelGraduated is the reserved top level. A streamer whose effective level
// equals it has graduated from the program and never receives check-in links.
const LevelGraduated = 8

// LevelUnset marks a streamer whose level has not been resolved yet.
// Unresolved streamers are skipped by the dispatcher, same as graduated ones.
const LevelUnset = 0
