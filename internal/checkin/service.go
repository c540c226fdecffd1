// Package checkin implements the streamer-facing check-in flow: resolving a
// token to its questionnaire, and turning a submission into a classified
// self-check record plus a queued thanks notification.
package checkin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"castline/internal/classifier"
	"castline/internal/queue"
	"castline/internal/types"
)

// TokenStore is the token lifecycle surface the flow depends on.
// Implemented by token.Store.
type TokenStore interface {
	Validate(ctx context.Context, raw string) (*types.CheckinToken, error)
	Consume(ctx context.Context, tokenID string) error
}

// Repository is the persistence surface for submissions and templates.
// Implemented by db.CheckinRepository.
type Repository interface {
	UpsertSelfCheck(ctx context.Context, sc *types.SelfCheck) error
	GetSelfCheck(ctx context.Context, streamerID, date string) (*types.SelfCheck, error)
	GetActiveTemplateForLevel(ctx context.Context, level int) (*types.CheckinTemplate, error)
	UpsertEarning(ctx context.Context, e *types.DailyEarning) error
}

// StreamerSource resolves the token owner. Implemented by
// db.StreamerRepository.
type StreamerSource interface {
	Get(ctx context.Context, id string) (*types.Streamer, error)
}

// CatalogSource supplies the message catalog for result texts.
type CatalogSource interface {
	Catalog(ctx context.Context) (classifier.Catalog, error)
}

// Service orchestrates the verify and submit operations.
type Service struct {
	tokens    TokenStore
	repo      Repository
	streamers StreamerSource
	settings  CatalogSource
	jobs      queue.JobRepository
	logger    types.Logger
}

// NewService wires a check-in service.
func NewService(tokens TokenStore, repo Repository, streamers StreamerSource, settings CatalogSource, jobs queue.JobRepository, logger types.Logger) *Service {
	return &Service{
		tokens:    tokens,
		repo:      repo,
		streamers: streamers,
		settings:  settings,
		jobs:      jobs,
		logger:    logger,
	}
}

// VerifyResult is what the form renderer needs: who is checking in, for
// which business date, against which questionnaire.
type VerifyResult struct {
	StreamerName string
	Date         string
	Template     *types.CheckinTemplate
}

// Verify resolves a raw token into the form context without consuming it.
// The form may be opened any number of times before submission.
func (s *Service) Verify(ctx context.Context, rawToken string) (*VerifyResult, error) {
	tok, err := s.tokens.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	streamer, err := s.streamers.Get(ctx, tok.StreamerID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.repo.GetActiveTemplateForLevel(ctx, streamer.EffectiveLevel())
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		StreamerName: streamer.DisplayName,
		Date:         tok.Date,
		Template:     tmpl,
	}, nil
}

// SubmitRequest carries one day's answers. Earnings fields are optional
// extras reported alongside the questionnaire.
type SubmitRequest struct {
	Answers          types.AnswerMap
	Memo             string
	Diamonds         *int64
	StreamingMinutes *int
}

// SubmitResult is the classified outcome shown on the result page.
type SubmitResult struct {
	Date             string
	OverallScore     int
	OutcomeLevel     types.OutcomeLevel
	WeakArea         types.WeakArea
	Comment          string
	NextAction       string
	NegativeDetected bool
}

// Submit runs the full submission flow: validate the token, validate
// answers against the template, classify, persist, consume the token, and
// enqueue the thanks notification.
//
// The self-check upsert lands before the token is consumed, so a crash
// between the two leaves a valid token and an idempotent re-submission
// path rather than a swallowed submission. Consume and enqueue failures
// after the record is durable are logged, not returned: the streamer's
// submission succeeded.
func (s *Service) Submit(ctx context.Context, rawToken string, req SubmitRequest) (*SubmitResult, error) {
	tok, err := s.tokens.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	streamer, err := s.streamers.Get(ctx, tok.StreamerID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.repo.GetActiveTemplateForLevel(ctx, streamer.EffectiveLevel())
	if err != nil {
		return nil, err
	}
	if err := validateAnswers(tmpl.Schema, req.Answers); err != nil {
		return nil, err
	}

	cat, err := s.settings.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	result := classifier.Classify(tmpl.Schema, req.Answers, req.Memo, cat)

	sc := &types.SelfCheck{
		ID:               uuid.NewString(),
		StreamerID:       tok.StreamerID,
		Date:             tok.Date,
		TemplateID:       tmpl.ID,
		Answers:          req.Answers,
		Memo:             req.Memo,
		OverallScore:     result.OverallScore,
		OutcomeLevel:     result.OutcomeLevel,
		WeakArea:         result.WeakArea,
		Comment:          result.Comment,
		NextAction:       result.NextAction,
		NegativeDetected: result.NegativeDetected,
	}
	if err := s.repo.UpsertSelfCheck(ctx, sc); err != nil {
		return nil, err
	}

	if err := s.tokens.Consume(ctx, tok.ID); err != nil {
		// A concurrent duplicate submission may have consumed first. The
		// record is already durable and upserts converge, so report success.
		s.logger.Warn("token consume failed after submission",
			"streamer_id", tok.StreamerID,
			"date", tok.Date,
			"error", err.Error(),
		)
	}

	if req.Diamonds != nil || req.StreamingMinutes != nil {
		earning := &types.DailyEarning{StreamerID: tok.StreamerID, Date: tok.Date}
		if req.Diamonds != nil {
			earning.Diamonds = *req.Diamonds
		}
		if req.StreamingMinutes != nil {
			earning.StreamingMinutes = *req.StreamingMinutes
		}
		if err := s.repo.UpsertEarning(ctx, earning); err != nil {
			s.logger.Warn("earning upsert failed", "streamer_id", tok.StreamerID, "error", err.Error())
		}
	}

	if _, err := queue.Enqueue(ctx, s.jobs, tok.StreamerID, tok.Date, types.JobCheckinThanks); err != nil {
		s.logger.Warn("thanks enqueue failed", "streamer_id", tok.StreamerID, "error", err.Error())
	}

	return &SubmitResult{
		Date:             tok.Date,
		OverallScore:     result.OverallScore,
		OutcomeLevel:     result.OutcomeLevel,
		WeakArea:         result.WeakArea,
		Comment:          result.Comment,
		NextAction:       result.NextAction,
		NegativeDetected: result.NegativeDetected,
	}, nil
}

// validateAnswers checks a submission against the template schema: every
// required question must be answered, and answer types must match the
// field type. Unknown answer keys are ignored rather than rejected so a
// template edit between render and submit degrades gracefully.
func validateAnswers(schema types.TemplateSchema, answers types.AnswerMap) error {
	for _, f := range schema.Fields {
		v, present := answers[f.Key]
		if !present {
			if f.Required {
				return types.NewAppError(types.ErrCodeValidationMissingField,
					fmt.Sprintf("missing required answer %q", f.Key), nil)
			}
			continue
		}
		switch f.Type {
		case types.FieldBoolean:
			if _, ok := v.(bool); !ok {
				return types.NewAppError(types.ErrCodeValidationAnswerType,
					fmt.Sprintf("answer %q must be a boolean", f.Key), nil)
			}
		case types.FieldText:
			if _, ok := v.(string); !ok {
				return types.NewAppError(types.ErrCodeValidationAnswerType,
					fmt.Sprintf("answer %q must be a string", f.Key), nil)
			}
		}
	}
	return nil
}
