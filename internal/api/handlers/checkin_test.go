package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/checkin"
	"castline/internal/types"
)

func sampleTemplate() *types.CheckinTemplate {
	return &types.CheckinTemplate{
		ID:       "tpl_1",
		Name:     "daily",
		Version:  "v2",
		IsActive: true,
		ForLevel: 2,
		Schema: types.TemplateSchema{Fields: []types.TemplateField{
			{Key: "pre_sleep", Label: "眠?", Type: types.FieldBoolean, Required: true},
			{Key: "memo", Label: "memo", Type: types.FieldText},
		}},
	}
}

func TestHandleCheckinVerify_Success(t *testing.T) {
	f := newFixture(t)
	f.checkins.verifyResult = &checkin.VerifyResult{
		StreamerName: "Akari",
		Date:         "2024-06-01",
		Template:     sampleTemplate(),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/checkin/verify?token=raw_token_abc", nil)
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data verifyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Akari", resp.Data.StreamerName)
	assert.Equal(t, "2024-06-01", resp.Data.Date)
	assert.Equal(t, "tpl_1", resp.Data.Template.ID)
	require.Len(t, resp.Data.Template.Fields, 2)
	assert.Equal(t, "pre_sleep", resp.Data.Template.Fields[0].Key)
}

func TestHandleCheckinVerify_MissingToken(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/checkin/verify", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCheckinVerify_CollapsesUnknownAndExpired(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrCodeTokenNotFound, types.ErrCodeTokenExpired} {
		t.Run(string(code), func(t *testing.T) {
			f := newFixture(t)
			f.checkins.verifyErr = types.NewAppError(code, "rejected", nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/checkin/verify?token=guess", nil)
			f.server.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			// Both rejections must be indistinguishable to the caller.
			assert.Contains(t, rec.Body.String(), string(types.ErrCodeTokenNotFound))
			assert.NotContains(t, rec.Body.String(), string(types.ErrCodeTokenExpired))
		})
	}
}

func TestHandleCheckinSubmit_Success(t *testing.T) {
	f := newFixture(t)
	f.checkins.submitResult = &checkin.SubmitResult{
		Date:         "2024-06-01",
		OverallScore: 80,
		OutcomeLevel: types.OutcomeGood,
		WeakArea:     types.WeakLive,
		Comment:      "よく頑張りました",
		NextAction:   "配信中の一言を増やしてみましょう",
	}

	body := `{"token":"raw_token_abc","answers":{"pre_sleep":true,"memo":"楽しかった"},"memo":"楽しかった","diamonds":1200}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkin/submit", strings.NewReader(body))
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw_token_abc", f.checkins.submittedRaw)
	assert.Equal(t, "楽しかった", f.checkins.submittedReq.Memo)
	require.NotNil(t, f.checkins.submittedReq.Diamonds)
	assert.Equal(t, int64(1200), *f.checkins.submittedReq.Diamonds)
	assert.True(t, f.checkins.submittedReq.Answers.Bool("pre_sleep"))

	var resp struct {
		Data checkinSubmitResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 80, resp.Data.OverallScore)
	assert.Equal(t, "good", resp.Data.OutcomeLevel)
}

func TestHandleCheckinSubmit_AlreadyUsedIsDistinct(t *testing.T) {
	f := newFixture(t)
	f.checkins.submitErr = types.NewAppError(types.ErrCodeTokenAlreadyUsed, "used", nil)

	body := `{"token":"raw_token_abc","answers":{"pre_sleep":true}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkin/submit", strings.NewReader(body))
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeTokenAlreadyUsed))
}

func TestHandleCheckinSubmit_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"token":`},
		{"missing token", `{"answers":{"a":true}}`},
		{"missing answers", `{"token":"raw_token_abc"}`},
		{"unknown field", `{"token":"raw_token_abc","answers":{},"bogus":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/checkin/submit", strings.NewReader(tt.body))
			f.server.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.checkins.submittedRaw, "service must not be reached")
		})
	}
}
