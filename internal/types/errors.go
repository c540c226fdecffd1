package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Handlers MUST use these constants instead
// of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidDate  ErrorCode = "validation_invalid_date"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationAnswerType   ErrorCode = "validation_invalid_answer_type"

	// Token rejections (401/409). All three are terminal for the request.
	// NotFound and Expired collapse to one generic message on the public
	// surface; AlreadyUsed may be surfaced distinctly so a legitimate user
	// understands their submission already succeeded.
	ErrCodeTokenNotFound    ErrorCode = "token_not_found"
	ErrCodeTokenExpired     ErrorCode = "token_expired"
	ErrCodeTokenAlreadyUsed ErrorCode = "token_already_used"

	// Auth (401) for operator/cron surfaces.
	ErrCodeAuthUnauthorized ErrorCode = "auth_unauthorized"
	ErrCodeAuthBadSignature ErrorCode = "auth_bad_signature"

	// Not Found (404)
	ErrCodeNotFoundStreamer ErrorCode = "not_found_streamer"
	ErrCodeNotFoundTemplate ErrorCode = "not_found_template"
	ErrCodeNotFoundJob      ErrorCode = "not_found_job"

	// Conflict (409). Uniqueness violations on issuance/enqueue are
	// non-fatal: the operation was already done.
	ErrCodeConflictTokenExists ErrorCode = "conflict_token_exists"
	ErrCodeConflictJobExists   ErrorCode = "conflict_job_exists"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamMessaging  ErrorCode = "upstream_messaging_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeTokenAlreadyUsed:
		return http.StatusConflict
	case strings.HasPrefix(s, "token_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError to enable consistent error formatting,
// HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}
