package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/types"
)

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	JSON(rec, req, http.StatusOK, APIResponse{Data: map[string]string{"hello": "world"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, rec.Body.String())
}

func TestError_AppErrorMapsStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       types.ErrorCode
		wantStatus int
	}{
		{"validation", types.ErrCodeValidationMissingField, http.StatusBadRequest},
		{"token unknown", types.ErrCodeTokenNotFound, http.StatusUnauthorized},
		{"token used", types.ErrCodeTokenAlreadyUsed, http.StatusConflict},
		{"not found", types.ErrCodeNotFoundStreamer, http.StatusNotFound},
		{"rate limit", types.ErrCodeRateLimit, http.StatusTooManyRequests},
		{"upstream", types.ErrCodeUpstreamMessaging, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req_123"))

			Error(rec, req, types.NewAppError(tt.code, "nope", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeErrorResponse(t, rec)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "req_123", resp.Error.RequestID)
		})
	}
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	Error(rec, req, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"ok"}`, false},
		{"empty body", ``, true},
		{"malformed", `{"name":`, true},
		{"unknown field", `{"name":"ok","extra":1}`, true},
		{"two values", `{"name":"a"}{"name":"b"}`, true},
		{"wrong type", `{"name":42}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSON(rec, req, &dst)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidJSON))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", dst.Name)
		})
	}
}
