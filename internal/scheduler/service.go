package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"castline/internal/businessday"
	"castline/internal/metrics"
	"castline/internal/queue"
	"castline/internal/types"
)

// Tuning. Fan-out concurrency bounds parallel enqueue round trips; the
// token retention keeps consumed rows around long enough for support
// inquiries before purge.
const (
	fanoutConcurrency    = 8
	tokenRetention       = 30 * 24 * time.Hour
	errorLogRetention    = 30 * 24 * time.Hour
	errorLogArchiveBatch = 500
)

// StreamerDB is the streamer access the scheduler needs. Implemented by
// db.StreamerRepository.
type StreamerDB interface {
	ListNotifiable(ctx context.Context) ([]*types.Streamer, error)
	ListActive(ctx context.Context) ([]*types.Streamer, error)
	SetLevel(ctx context.Context, id string, level int) error
}

// TokenIssuer mints the day's check-in token during fan-out. Implemented
// by token.Store.
type TokenIssuer interface {
	Issue(ctx context.Context, streamerID, date string) (string, error)
}

// TokenDB is the token maintenance surface. Implemented by
// db.TokenRepository.
type TokenDB interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EarningsDB aggregates reported earnings for the level refresh.
// Implemented by db.CheckinRepository.
type EarningsDB interface {
	MonthlyDiamonds(ctx context.Context, monthPrefix string) (map[string]int64, error)
}

// Dispatcher runs one queue drain batch. Implemented by queue.Dispatcher.
type Dispatcher interface {
	Tick(ctx context.Context) (queue.TickResult, error)
}

// Waker nudges dispatch workers after a fan-out so jobs go out promptly.
// Implemented by queue.WakeTrigger; nil disables waking.
type Waker interface {
	Wake(ctx context.Context, date, reason string) error
}

// CronControl gates tasks on operator switches and records run outcomes.
// Implemented by settings.Service.
type CronControl interface {
	CronEnabled(ctx context.Context, jobKey string) (bool, error)
	RecordRun(ctx context.Context, jobKey string, ranAt time.Time, result map[string]any) error
}

// Service is the scheduled task multiplexer.
type Service struct {
	streamers  StreamerDB
	jobs       queue.JobRepository
	issuer     TokenIssuer
	tokens     TokenDB
	earnings   EarningsDB
	dispatcher Dispatcher
	archiver   *ErrorLogArchiver
	waker      Waker
	cron       CronControl
	metrics    metrics.Emitter
	clock      types.Clock
	logger     types.Logger
}

// NewService wires the scheduler. waker may be nil when no dispatch queue
// is configured (self-hosted runs where the tick schedule is the only
// drain).
func NewService(
	streamers StreamerDB,
	jobs queue.JobRepository,
	issuer TokenIssuer,
	tokens TokenDB,
	earnings EarningsDB,
	dispatcher Dispatcher,
	archiver *ErrorLogArchiver,
	waker Waker,
	cron CronControl,
	emitter metrics.Emitter,
	clock types.Clock,
	logger types.Logger,
) *Service {
	return &Service{
		streamers:  streamers,
		jobs:       jobs,
		issuer:     issuer,
		tokens:     tokens,
		earnings:   earnings,
		dispatcher: dispatcher,
		archiver:   archiver,
		waker:      waker,
		cron:       cron,
		metrics:    emitter,
		clock:      clock,
		logger:     logger,
	}
}

// Run executes one task invocation: resolve the reference time, consult the
// operator switch, run the task, and record the outcome. The returned map
// is the run summary that also lands in cron_settings.last_result.
func (s *Service) Run(ctx context.Context, p Payload) (map[string]any, error) {
	now := s.clock.Now()
	if p.ReferenceTime != nil {
		now = *p.ReferenceTime
	}

	enabled, err := s.cron.CronEnabled(ctx, string(p.Task))
	if err != nil {
		return nil, err
	}
	if !enabled {
		s.logger.Info("scheduled task disabled, skipping", "task", string(p.Task))
		return map[string]any{"skipped": "disabled"}, nil
	}

	var result map[string]any
	switch p.Task {
	case TaskDailyFanout:
		result, err = s.runDailyFanout(ctx, now)
	case TaskDispatchTick:
		result, err = s.runDispatchTick(ctx)
	case TaskPurgeExpiredTokens:
		result, err = s.runTokenPurge(ctx, now)
	case TaskArchiveErrorLogs:
		result, err = s.archiver.Archive(ctx, now)
	case TaskRefreshLevels:
		result, err = s.runLevelRefresh(ctx, now)
	default:
		return nil, fmt.Errorf("scheduler: unknown task %q", p.Task)
	}
	if err != nil {
		return nil, err
	}

	if recErr := s.cron.RecordRun(ctx, string(p.Task), now, result); recErr != nil {
		// The task itself succeeded; a bookkeeping miss is log-only.
		s.logger.Warn("failed to record task run", "task", string(p.Task), "error", recErr.Error())
	}
	return result, nil
}

// runDailyFanout issues the day's token and enqueues one daily_checkin job
// per eligible streamer for the business date of the reference instant.
// Both halves are idempotent (issue skips an existing token row, enqueue is
// a conflict no-op), so a rerun of the same day only counts the rows it
// actually created.
func (s *Service) runDailyFanout(ctx context.Context, now time.Time) (map[string]any, error) {
	date := businessday.DateOf(now)

	eligible, err := s.streamers.ListNotifiable(ctx)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		tokenIssued bool
		jobCreated  bool
	}

	var tokensIssued, enqueued, existing int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutConcurrency)
	results := make([]outcome, len(eligible))
	for i, st := range eligible {
		g.Go(func() error {
			// The raw value is dropped here; the link token is reissued
			// at send time so the pushed URL is always fresh.
			if _, err := s.issuer.Issue(gctx, st.ID, date); err != nil {
				if !types.IsCode(err, types.ErrCodeConflictTokenExists) {
					return err
				}
			} else {
				results[i].tokenIssued = true
			}

			created, err := queue.Enqueue(gctx, s.jobs, st.ID, date, types.JobDailyCheckin)
			if err != nil {
				return err
			}
			results[i].jobCreated = created
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.tokenIssued {
			tokensIssued++
		}
		if r.jobCreated {
			enqueued++
		} else {
			existing++
		}
	}

	s.metrics.FanoutEnqueued(ctx, int(enqueued))
	s.logger.Info("daily fanout complete",
		"date", date,
		"eligible", len(eligible),
		"tokens_issued", tokensIssued,
		"enqueued", enqueued,
		"already_enqueued", existing,
	)

	if s.waker != nil && enqueued > 0 {
		if err := s.waker.Wake(ctx, date, "daily_fanout"); err != nil {
			s.logger.Warn("dispatch wake failed", "error", err.Error())
		}
	}

	return map[string]any{
		"date":             date,
		"eligible":         len(eligible),
		"tokens_issued":    tokensIssued,
		"enqueued":         enqueued,
		"already_enqueued": existing,
	}, nil
}

func (s *Service) runDispatchTick(ctx context.Context) (map[string]any, error) {
	res, err := s.dispatcher.Tick(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"claimed":  res.Claimed,
		"sent":     res.Sent,
		"skipped":  res.Skipped,
		"requeued": res.Requeued,
		"failed":   res.Failed,
	}, nil
}

func (s *Service) runTokenPurge(ctx context.Context, now time.Time) (map[string]any, error) {
	deleted, err := s.tokens.DeleteExpiredBefore(ctx, now.Add(-tokenRetention))
	if err != nil {
		return nil, err
	}
	s.logger.Info("expired tokens purged", "deleted", deleted)
	return map[string]any{"deleted": deleted}, nil
}

// Diamond thresholds for the computed level, level 1 through 7. Level 8 is
// the graduated sentinel and is only ever set by staff.
var levelThresholds = []int64{0, 10_000, 30_000, 60_000, 100_000, 200_000, 400_000}

// levelForDiamonds maps a month's diamond total to a computed level.
func levelForDiamonds(diamonds int64) int {
	level := 1
	for i, threshold := range levelThresholds {
		if diamonds >= threshold {
			level = i + 1
		}
	}
	return level
}

// runLevelRefresh recomputes levels from the previous month's earnings.
// Levels only ratchet up: one slow month never demotes a streamer, and
// graduated or staff-overridden levels are left alone.
func (s *Service) runLevelRefresh(ctx context.Context, now time.Time) (map[string]any, error) {
	prevMonth := businessday.MonthPrefix(businessday.DateOf(now.AddDate(0, -1, 0)))

	totals, err := s.earnings.MonthlyDiamonds(ctx, prevMonth)
	if err != nil {
		return nil, err
	}
	active, err := s.streamers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var raised int
	for _, st := range active {
		if st.LevelCurrent == types.LevelGraduated {
			continue
		}
		computed := levelForDiamonds(totals[st.ID])
		if computed <= st.LevelCurrent {
			continue
		}
		if err := s.streamers.SetLevel(ctx, st.ID, computed); err != nil {
			s.logger.Error("level update failed", "streamer_id", st.ID, "error", err.Error())
			continue
		}
		raised++
		s.logger.Info("streamer level raised",
			"streamer_id", st.ID,
			"from", st.LevelCurrent,
			"to", computed,
			"month", prevMonth,
		)
	}

	return map[string]any{
		"month":    prevMonth,
		"reviewed": len(active),
		"raised":   raised,
	}, nil
}
