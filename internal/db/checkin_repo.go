package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"castline/internal/types"
)

// CheckinRepository provides data access for self_checks, checkin_templates
// and daily_earnings.
type CheckinRepository struct {
	db DBTX
}

// NewCheckinRepository creates a new CheckinRepository backed by the given
// database connection (pool or transaction).
func NewCheckinRepository(db DBTX) *CheckinRepository {
	return &CheckinRepository{db: db}
}

// UpsertSelfCheck stores a submission, overwriting any earlier row for the
// same (streamer, date). Re-submission within the token window replaces
// rather than duplicates, so a retried request converges on one record.
func (r *CheckinRepository) UpsertSelfCheck(ctx context.Context, sc *types.SelfCheck) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO self_checks
		 (id, streamer_id, date, template_id, answers, memo, overall_score,
		  outcome_level, weak_area, comment, next_action, negative_detected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (streamer_id, date) DO UPDATE SET
			template_id = EXCLUDED.template_id,
			answers = EXCLUDED.answers,
			memo = EXCLUDED.memo,
			overall_score = EXCLUDED.overall_score,
			outcome_level = EXCLUDED.outcome_level,
			weak_area = EXCLUDED.weak_area,
			comment = EXCLUDED.comment,
			next_action = EXCLUDED.next_action,
			negative_detected = EXCLUDED.negative_detected`,
		sc.ID, sc.StreamerID, sc.Date, sc.TemplateID, sc.Answers, nilIfEmpty(sc.Memo),
		sc.OverallScore, string(sc.OutcomeLevel), string(sc.WeakArea),
		sc.Comment, sc.NextAction, sc.NegativeDetected)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert self check", err)
	}
	return nil
}

// GetSelfCheck fetches the submission for a (streamer, business date) pair.
// Returns nil with no error when none exists.
func (r *CheckinRepository) GetSelfCheck(ctx context.Context, streamerID, date string) (*types.SelfCheck, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, streamer_id, date, template_id, answers, memo, overall_score,
		        outcome_level, weak_area, comment, next_action, negative_detected, created_at
		 FROM self_checks
		 WHERE streamer_id = $1 AND date = $2`, streamerID, date)

	var (
		sc      types.SelfCheck
		memo    *string
		outcome string
		weak    string
	)
	err := row.Scan(&sc.ID, &sc.StreamerID, &sc.Date, &sc.TemplateID, &sc.Answers, &memo,
		&sc.OverallScore, &outcome, &weak, &sc.Comment, &sc.NextAction,
		&sc.NegativeDetected, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get self check", err)
	}
	if memo != nil {
		sc.Memo = *memo
	}
	sc.OutcomeLevel = types.OutcomeLevel(outcome)
	sc.WeakArea = types.WeakArea(weak)
	return &sc, nil
}

// ListSelfChecksForDate returns all submissions for a business date,
// ordered by streamer. Powers the staff risk board.
func (r *CheckinRepository) ListSelfChecksForDate(ctx context.Context, date string) ([]*types.SelfCheck, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, streamer_id, date, template_id, answers, memo, overall_score,
		        outcome_level, weak_area, comment, next_action, negative_detected, created_at
		 FROM self_checks
		 WHERE date = $1
		 ORDER BY streamer_id`, date)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list self checks", err)
	}
	defer rows.Close()

	var out []*types.SelfCheck
	for rows.Next() {
		var (
			sc      types.SelfCheck
			memo    *string
			outcome string
			weak    string
		)
		err := rows.Scan(&sc.ID, &sc.StreamerID, &sc.Date, &sc.TemplateID, &sc.Answers, &memo,
			&sc.OverallScore, &outcome, &weak, &sc.Comment, &sc.NextAction,
			&sc.NegativeDetected, &sc.CreatedAt)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan self check row", err)
		}
		if memo != nil {
			sc.Memo = *memo
		}
		sc.OutcomeLevel = types.OutcomeLevel(outcome)
		sc.WeakArea = types.WeakArea(weak)
		out = append(out, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating self check rows", err)
	}
	return out, nil
}

// GetActiveTemplateForLevel resolves the questionnaire for a streamer's
// effective level: the active template bound to that level, or the first
// active template as fallback when no level-specific one exists.
func (r *CheckinRepository) GetActiveTemplateForLevel(ctx context.Context, level int) (*types.CheckinTemplate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, version, is_active, for_level, schema, created_at
		 FROM checkin_templates
		 WHERE is_active = TRUE
		 ORDER BY (for_level = $1) DESC, created_at
		 LIMIT 1`, level)

	var t types.CheckinTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Version, &t.IsActive, &t.ForLevel, &t.Schema, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "no active checkin template", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get checkin template", err)
	}
	return &t, nil
}

// UpsertEarning stores a streamer's reported earnings for one business day,
// overwriting any earlier report.
func (r *CheckinRepository) UpsertEarning(ctx context.Context, e *types.DailyEarning) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO daily_earnings (streamer_id, date, diamonds, streaming_minutes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (streamer_id, date) DO UPDATE SET
			diamonds = EXCLUDED.diamonds,
			streaming_minutes = EXCLUDED.streaming_minutes`,
		e.StreamerID, e.Date, e.Diamonds, e.StreamingMinutes)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert daily earning", err)
	}
	return nil
}

// MonthlyDiamonds sums reported diamonds per streamer for a "YYYY-MM"
// month prefix. Input to the level refresh.
func (r *CheckinRepository) MonthlyDiamonds(ctx context.Context, monthPrefix string) (map[string]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT streamer_id, COALESCE(SUM(diamonds), 0)
		 FROM daily_earnings
		 WHERE date LIKE $1 || '-%'
		 GROUP BY streamer_id`, monthPrefix)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate monthly diamonds", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			id  string
			sum int64
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan earnings row", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating earnings rows", err)
	}
	return out, nil
}
