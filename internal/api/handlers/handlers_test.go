package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"castline/internal/businessday"
	"castline/internal/checkin"
	"castline/internal/classifier"
	"castline/internal/config"
	"castline/internal/core"
	"castline/internal/scheduler"
	"castline/internal/types"
)

// --- Fakes ---

type fakeCheckins struct {
	verifyResult *checkin.VerifyResult
	verifyErr    error
	submitResult *checkin.SubmitResult
	submitErr    error
	submittedRaw string
	submittedReq checkin.SubmitRequest
}

func (f *fakeCheckins) Verify(_ context.Context, raw string) (*checkin.VerifyResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyResult, nil
}

func (f *fakeCheckins) Submit(_ context.Context, raw string, req checkin.SubmitRequest) (*checkin.SubmitResult, error) {
	f.submittedRaw = raw
	f.submittedReq = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitResult, nil
}

type fakeTokens struct {
	raw      string
	consumed bool
	err      error
	reissued []string // "streamerID|date"
}

func (f *fakeTokens) Reissue(_ context.Context, streamerID, date string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	f.reissued = append(f.reissued, streamerID+"|"+date)
	if f.consumed {
		return "", false, nil
	}
	return f.raw, true, nil
}

type fakeStreamers struct {
	byID   map[string]*types.Streamer
	byChat map[string]*types.Streamer
}

func (f *fakeStreamers) Get(_ context.Context, id string) (*types.Streamer, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundStreamer, "streamer not found", nil)
	}
	return s, nil
}

func (f *fakeStreamers) GetByChatUserID(_ context.Context, chatUserID string) (*types.Streamer, error) {
	s, ok := f.byChat[chatUserID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundStreamer, "streamer not found", nil)
	}
	return s, nil
}

type fakeJobs struct {
	jobs   []*types.NotificationJob
	counts map[types.JobStatus]int
}

func (f *fakeJobs) ListForDate(context.Context, string) ([]*types.NotificationJob, error) {
	return f.jobs, nil
}

func (f *fakeJobs) CountByStatus(context.Context, string) (map[types.JobStatus]int, error) {
	return f.counts, nil
}

type fakeSettings struct{ catalog classifier.Catalog }

func (f *fakeSettings) Catalog(context.Context) (classifier.Catalog, error) {
	return f.catalog, nil
}

type sentMessage struct {
	To   string
	Text string
}

type fakeMessenger struct {
	pushes  []sentMessage
	replies []sentMessage
	pushErr error
}

func (f *fakeMessenger) Push(_ context.Context, chatUserID, text string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, sentMessage{To: chatUserID, Text: text})
	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, replyToken, text string) error {
	f.replies = append(f.replies, sentMessage{To: replyToken, Text: text})
	return nil
}

type fakeCron struct {
	payloads []scheduler.Payload
	result   map[string]any
	err      error
}

func (f *fakeCron) Run(_ context.Context, p scheduler.Payload) (map[string]any, error) {
	f.payloads = append(f.payloads, p)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// --- Harness ---

const (
	testCronSecret    = "cron-secret-16-chars"
	testChannelSecret = "channel-secret-16-ch"
	testBaseURL       = "https://checkin.example.com"
)

type fixture struct {
	handlers  *Handlers
	server    *core.Server
	checkins  *fakeCheckins
	tokens    *fakeTokens
	streamers *fakeStreamers
	jobs      *fakeJobs
	messenger *fakeMessenger
	cron      *fakeCron
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Environment: "local",
		Service:     "castline",
		Server: config.ServerConfig{
			Port:           "8080",
			CheckinBaseURL: testBaseURL,
			CronSecret:     types.SecretString(testCronSecret),
		},
	}
	srv, err := core.NewServer(cfg, types.NopLogger{}, nil)
	require.NoError(t, err)

	f := &fixture{
		server:    srv,
		checkins:  &fakeCheckins{},
		tokens:    &fakeTokens{raw: "raw_token_abc"},
		streamers: &fakeStreamers{byID: map[string]*types.Streamer{}, byChat: map[string]*types.Streamer{}},
		jobs:      &fakeJobs{},
		messenger: &fakeMessenger{},
		cron:      &fakeCron{result: map[string]any{"enqueued": int64(1)}},
	}
	f.handlers = New(
		f.checkins,
		f.tokens,
		f.streamers,
		f.jobs,
		&fakeSettings{catalog: classifier.NewCatalog(nil)},
		f.messenger,
		f.cron,
		fixedClock{now: time.Date(2024, 6, 1, 21, 0, 0, 0, businessday.Zone())},
		types.NopLogger{},
		types.SecretString(testChannelSecret),
		testBaseURL,
	)
	f.handlers.Mount(srv)
	return f
}

func activeStreamer(id, chatUserID string) *types.Streamer {
	return &types.Streamer{
		ID:            id,
		DisplayName:   "Streamer " + id,
		ChatUserID:    chatUserID,
		Status:        types.StreamerActive,
		NotifyEnabled: true,
		LevelCurrent:  2,
	}
}

func withCronAuth(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	return req
}
