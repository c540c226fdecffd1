package queue

import (
	"context"
	"fmt"

	"castline/internal/businessday"
	"castline/internal/classifier"
	"castline/internal/messaging"
	"castline/internal/metrics"
	"castline/internal/types"
)

// StreamerSource hydrates recipients for a claimed batch.
type StreamerSource interface {
	ListByIDs(ctx context.Context, ids []string) (map[string]*types.Streamer, error)
}

// TokenIssuer mints the check-in link token at send time. Issuing this
// late, rather than at enqueue, means the raw token never sits in the jobs
// table and a job retried tomorrow still carries a live link.
type TokenIssuer interface {
	Reissue(ctx context.Context, streamerID, date string) (raw string, ok bool, err error)
}

// SelfCheckSource resolves the submission a thanks message refers to.
type SelfCheckSource interface {
	GetSelfCheck(ctx context.Context, streamerID, date string) (*types.SelfCheck, error)
}

// CatalogSource supplies the current message catalog snapshot.
type CatalogSource interface {
	Catalog(ctx context.Context) (classifier.Catalog, error)
}

// Skip reasons recorded in last_error for terminal 'skipped' rows.
const (
	skipStreamerMissing  = "streamer_missing"
	skipIneligible       = "recipient_ineligible"
	skipAlreadySubmitted = "already_submitted"
	skipNoSelfCheck      = "no_self_check"
	skipUnknownKind      = "unknown_job_kind"
)

// resolveFunc builds the outbound text for one job kind. A non-empty skip
// reason retires the job without sending; an error counts as a delivery
// attempt failure.
type resolveFunc func(ctx context.Context, job *types.NotificationJob, s *types.Streamer, cat classifier.Catalog) (text string, skip string, err error)

// TickResult summarizes one dispatch tick for logging and run records.
type TickResult struct {
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// Dispatcher drains the job queue. One Tick claims a leased batch, resolves
// each job to a message, pushes it, and records the outcome. Eligibility is
// re-checked per job at send time, not enqueue time: a streamer paused
// during the day is skipped, never messaged.
type Dispatcher struct {
	jobs      JobRepository
	streamers StreamerSource
	tokens    TokenIssuer
	checks    SelfCheckSource
	settings  CatalogSource
	messenger messaging.Messenger
	metrics   metrics.Emitter
	clock     types.Clock
	logger    types.Logger

	checkinBaseURL string
	resolvers      map[types.JobKind]resolveFunc
}

// NewDispatcher wires a dispatcher. checkinBaseURL is the public origin the
// check-in form is served from.
func NewDispatcher(
	jobs JobRepository,
	streamers StreamerSource,
	tokens TokenIssuer,
	checks SelfCheckSource,
	settings CatalogSource,
	messenger messaging.Messenger,
	emitter metrics.Emitter,
	clock types.Clock,
	logger types.Logger,
	checkinBaseURL string,
) *Dispatcher {
	d := &Dispatcher{
		jobs:           jobs,
		streamers:      streamers,
		tokens:         tokens,
		checks:         checks,
		settings:       settings,
		messenger:      messenger,
		metrics:        emitter,
		clock:          clock,
		logger:         logger,
		checkinBaseURL: checkinBaseURL,
	}
	// The kind set is closed: adding a kind means adding a resolver here.
	d.resolvers = map[types.JobKind]resolveFunc{
		types.JobDailyCheckin:  d.resolveDailyCheckin,
		types.JobCheckinThanks: d.resolveCheckinThanks,
	}
	return d
}

// Tick claims and processes one batch for the current business date. Jobs
// dated earlier stay out of scope: their token expiry has passed, so a
// late send could only push a dead link. Per-job failures never abort the
// batch; only claim-level errors (database unreachable) return an error.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	start := d.clock.Now()
	var res TickResult

	batch, err := d.jobs.ClaimBatch(ctx, businessday.DateOf(start), BatchLimit, LeaseTimeout, start)
	if err != nil {
		return res, err
	}
	res.Claimed = len(batch)
	if len(batch) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(batch))
	for _, j := range batch {
		ids = append(ids, j.StreamerID)
	}
	recipients, err := d.streamers.ListByIDs(ctx, ids)
	if err != nil {
		return res, err
	}
	cat, err := d.settings.Catalog(ctx)
	if err != nil {
		return res, err
	}

	for _, job := range batch {
		d.process(ctx, job, recipients[job.StreamerID], cat, &res)
	}

	d.metrics.TickLatency(ctx, d.clock.Now().Sub(start))
	d.logger.Info("dispatch tick complete",
		"claimed", res.Claimed,
		"sent", res.Sent,
		"skipped", res.Skipped,
		"requeued", res.Requeued,
		"failed", res.Failed,
	)
	return res, nil
}

func (d *Dispatcher) process(ctx context.Context, job *types.NotificationJob, s *types.Streamer, cat classifier.Catalog, res *TickResult) {
	if s == nil {
		d.skip(ctx, job, skipStreamerMissing, res)
		return
	}
	if !s.Notifiable() {
		d.skip(ctx, job, skipIneligible, res)
		return
	}

	resolve, ok := d.resolvers[job.Kind]
	if !ok {
		d.skip(ctx, job, skipUnknownKind, res)
		return
	}

	text, skip, err := resolve(ctx, job, s, cat)
	if err != nil {
		d.fail(ctx, job, err, res)
		return
	}
	if skip != "" {
		d.skip(ctx, job, skip, res)
		return
	}

	if err := d.messenger.Push(ctx, s.ChatUserID, text); err != nil {
		d.fail(ctx, job, err, res)
		return
	}

	if err := d.jobs.MarkSent(ctx, job.ID, d.clock.Now()); err != nil {
		// The message went out; a bookkeeping failure must not trigger a
		// duplicate send from this worker. The lease keeps the row parked
		// until it expires, and the next claim retries the state write path.
		d.logger.Error("failed to mark job sent", "job_id", job.ID, "error", err.Error())
		return
	}
	res.Sent++
	d.metrics.JobOutcome(ctx, job.Kind, types.JobSent)
}

// resolveDailyCheckin builds the daily check-in link message. The token is
// reissued here so the raw value is fresh at send time; a pair whose token
// was already consumed means the streamer submitted before the push went
// out, and the job retires silently.
func (d *Dispatcher) resolveDailyCheckin(ctx context.Context, job *types.NotificationJob, s *types.Streamer, cat classifier.Catalog) (string, string, error) {
	raw, ok, err := d.tokens.Reissue(ctx, s.ID, job.Date)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", skipAlreadySubmitted, nil
	}
	return cat.CheckinLink(s.DisplayName, d.checkinURL(raw), job.Date), "", nil
}

// resolveCheckinThanks builds the post-submission thanks message from the
// recorded classifier outcome.
func (d *Dispatcher) resolveCheckinThanks(ctx context.Context, job *types.NotificationJob, s *types.Streamer, cat classifier.Catalog) (string, string, error) {
	sc, err := d.checks.GetSelfCheck(ctx, s.ID, job.Date)
	if err != nil {
		return "", "", err
	}
	if sc == nil {
		return "", skipNoSelfCheck, nil
	}
	return cat.Thanks(sc.OutcomeLevel, sc.NegativeDetected), "", nil
}

func (d *Dispatcher) checkinURL(raw string) string {
	return fmt.Sprintf("%s/checkin?token=%s", d.checkinBaseURL, raw)
}

func (d *Dispatcher) skip(ctx context.Context, job *types.NotificationJob, reason string, res *TickResult) {
	if err := d.jobs.MarkSkipped(ctx, job.ID, reason, d.clock.Now()); err != nil {
		d.logger.Error("failed to mark job skipped", "job_id", job.ID, "error", err.Error())
		return
	}
	res.Skipped++
	d.metrics.JobOutcome(ctx, job.Kind, types.JobSkipped)
	d.logger.Info("job skipped", "job_id", job.ID, "kind", string(job.Kind), "reason", reason)
}

func (d *Dispatcher) fail(ctx context.Context, job *types.NotificationJob, cause error, res *TickResult) {
	status, err := d.jobs.MarkFailure(ctx, job.ID, cause.Error(), MaxAttempts, d.clock.Now())
	if err != nil {
		d.logger.Error("failed to record job failure", "job_id", job.ID, "error", err.Error())
		return
	}
	if status == types.JobFailed {
		res.Failed++
		d.logger.Error("job failed permanently",
			"job_id", job.ID,
			"kind", string(job.Kind),
			"error", cause.Error(),
		)
	} else {
		res.Requeued++
		d.logger.Warn("job requeued after failure",
			"job_id", job.ID,
			"kind", string(job.Kind),
			"error", cause.Error(),
		)
	}
	d.metrics.JobOutcome(ctx, job.Kind, status)
}
