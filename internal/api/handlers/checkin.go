package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"castline/internal/checkin"
	"castline/internal/core"
	"castline/internal/types"
)

// templateDTO is the questionnaire shape the form renderer consumes.
type templateDTO struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Version string                `json:"version"`
	Fields  []types.TemplateField `json:"fields"`
}

type verifyResponse struct {
	StreamerName string      `json:"streamer_name"`
	Date         string      `json:"date"`
	Template     templateDTO `json:"template"`
}

// HandleCheckinVerify resolves a raw token into the form context without
// consuming it. GET /api/checkin/verify?token=...
func (h *Handlers) HandleCheckinVerify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"token query parameter is required",
			nil,
		))
		return
	}

	result, err := h.Checkins.Verify(r.Context(), raw)
	if err != nil {
		core.Error(w, r, sanitizeTokenError(err))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: verifyResponse{
		StreamerName: result.StreamerName,
		Date:         result.Date,
		Template: templateDTO{
			ID:      result.Template.ID,
			Name:    result.Template.Name,
			Version: result.Template.Version,
			Fields:  result.Template.Schema.Fields,
		},
	}})
}

type checkinSubmitRequest struct {
	Token            string         `json:"token" validate:"required"`
	Answers          map[string]any `json:"answers" validate:"required"`
	Memo             string         `json:"memo" validate:"max=2000"`
	Diamonds         *int64         `json:"diamonds" validate:"omitempty,gte=0"`
	StreamingMinutes *int           `json:"streaming_minutes" validate:"omitempty,gte=0,lte=1440"`
}

type checkinSubmitResponse struct {
	Date             string `json:"date"`
	OverallScore     int    `json:"overall_score"`
	OutcomeLevel     string `json:"outcome_level"`
	WeakArea         string `json:"weak_area"`
	Comment          string `json:"comment"`
	NextAction       string `json:"next_action"`
	NegativeDetected bool   `json:"negative_detected"`
}

// HandleCheckinSubmit runs the submission flow. POST /api/checkin/submit.
func (h *Handlers) HandleCheckinSubmit(w http.ResponseWriter, r *http.Request) {
	var req checkinSubmitRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.Checkins.Submit(r.Context(), req.Token, checkin.SubmitRequest{
		Answers:          types.AnswerMap(req.Answers),
		Memo:             req.Memo,
		Diamonds:         req.Diamonds,
		StreamingMinutes: req.StreamingMinutes,
	})
	if err != nil {
		core.Error(w, r, sanitizeTokenError(err))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: checkinSubmitResponse{
		Date:             result.Date,
		OverallScore:     result.OverallScore,
		OutcomeLevel:     string(result.OutcomeLevel),
		WeakArea:         string(result.WeakArea),
		Comment:          result.Comment,
		NextAction:       result.NextAction,
		NegativeDetected: result.NegativeDetected,
	}})
}

// sanitizeTokenError collapses unknown and expired tokens into one generic
// rejection so the public surface does not reveal whether a guessed token
// ever existed. An already-used token is surfaced distinctly: the streamer
// should learn their submission already succeeded.
func sanitizeTokenError(err error) error {
	if types.IsCode(err, types.ErrCodeTokenNotFound) || types.IsCode(err, types.ErrCodeTokenExpired) {
		return types.NewAppError(
			types.ErrCodeTokenNotFound,
			"this check-in link is invalid or has expired",
			err,
		)
	}
	if types.IsCode(err, types.ErrCodeTokenAlreadyUsed) {
		return types.NewAppError(
			types.ErrCodeTokenAlreadyUsed,
			"today's check-in has already been submitted",
			err,
		)
	}
	return err
}

// validateStruct runs go-playground validation and converts the first
// violation into an AppError.
func (h *Handlers) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			appErr := types.NewAppError(
				types.ErrCodeValidationMissingField,
				"missing required field",
				err,
			)
			appErr.Details = map[string]any{"field": fe.Field()}
			return appErr
		}
		appErr := types.NewAppError(
			types.ErrCodeValidationAnswerType,
			"invalid value for field",
			err,
		)
		appErr.Details = map[string]any{"field": fe.Field(), "rule": fe.Tag()}
		return appErr
	}

	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid request", err)
}
