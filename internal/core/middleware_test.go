package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/config"
	"castline/internal/types"
)

type captureSink struct {
	entries []*types.ErrorLogEntry
	err     error
}

func (c *captureSink) Insert(_ context.Context, entry *types.ErrorLogEntry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, entry)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "castline",
		Server: config.ServerConfig{
			Port:           "8080",
			CheckinBaseURL: "https://checkin.example.com",
			CronSecret:     types.SecretString("cron-secret-16-chars"),
		},
	}
}

func newTestServer(t *testing.T, sink ErrorLogSink) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), types.NopLogger{}, sink)
	require.NoError(t, err)
	return s
}

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PropagatesIncoming(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "upstream-id", seen)
}

func TestRecoverer_ConvertsPanicTo500(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestCronAuth(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.CronAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid secret", "Bearer cron-secret-16-chars", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer wrong-secret-wrong", http.StatusUnauthorized},
		{"not bearer", "Basic cron-secret-16-chars", http.StatusUnauthorized},
		{"secret as prefix", "Bearer cron-secret-16-chars-extra", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/cron/daily_fanout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	l := newRateLimiter(3, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("ip1", now))
	assert.True(t, l.allow("ip1", now.Add(time.Second)))
	assert.True(t, l.allow("ip1", now.Add(2*time.Second)))
	assert.False(t, l.allow("ip1", now.Add(3*time.Second)), "fourth hit in window must be rejected")

	// Other keys are independent.
	assert.True(t, l.allow("ip2", now.Add(3*time.Second)))

	// Once the window slides past the first hits, the key recovers.
	assert.True(t, l.allow("ip1", now.Add(61*time.Second)))
}

func TestRateLimiter_SweepsIdleKeys(t *testing.T) {
	l := newRateLimiter(3, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// A scanner cycling spoofed addresses fills the map once.
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow(fmt.Sprintf("198.51.100.%d", i), now))
	}
	require.Len(t, l.hits, 100)

	// After the window elapses, a single hit from any key sweeps the
	// idle entries instead of leaking them for the process lifetime.
	assert.True(t, l.allow("203.0.113.7", now.Add(61*time.Second)))
	assert.Len(t, l.hits, 1)
}

func TestRateLimit_Returns429(t *testing.T) {
	s := newTestServer(t, nil)
	s.limiter = newRateLimiter(1, time.Minute)
	h := s.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/checkin/verify", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeRateLimit), resp.Error.Code)
}

func TestRateLimit_KeyedByForwardedFor(t *testing.T) {
	s := newTestServer(t, nil)
	s.limiter = newRateLimiter(1, time.Minute)
	h := s.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/checkin/verify", nil)
		req.RemoteAddr = "10.0.0.1:1234" // load balancer
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"), "distinct clients must not share a bucket")
}

func TestErrorLogCapture_Records5xxOnly(t *testing.T) {
	sink := &captureSink{}
	s := newTestServer(t, sink)

	ok := s.ErrorLogCapture(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fine", nil))
	assert.Empty(t, sink.entries)

	fail := s.ErrorLogCapture(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"db down"}`))
	}))
	rec = httptest.NewRecorder()
	fail.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/submit", nil))

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, "/api/checkin/submit", entry.Route)
	assert.Equal(t, http.MethodPost, entry.Method)
	assert.Equal(t, http.StatusInternalServerError, entry.Detail["status"])
}

func TestErrorLogCapture_SinkFailureDoesNotBreakResponse(t *testing.T) {
	sink := &captureSink{err: assert.AnError}
	s := newTestServer(t, sink)

	h := s.ErrorLogCapture(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flaky", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
