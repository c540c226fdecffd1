package core

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"castline/internal/types"
)

// responseCapture wraps an http.ResponseWriter to record the status code
// and, for error capture, the first bytes of the body.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bodyHead   bytes.Buffer
}

// maxCapturedBody bounds how much of an error response body is retained
// for the error log.
const maxCapturedBody = 2048

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	if rc.statusCode >= 500 && rc.bodyHead.Len() < maxCapturedBody {
		room := maxCapturedBody - rc.bodyHead.Len()
		if room > len(b) {
			room = len(b)
		}
		rc.bodyHead.Write(b[:room])
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// RequestIDMiddleware generates or propagates a correlation ID for each
// request. An incoming X-Request-ID header is trusted as-is; otherwise a
// random hex ID is minted. The ID is stored in the context and echoed in
// the response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID produces a cryptographically random hex string.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// rand.Read never fails on supported platforms; fall back to a
		// timestamp so correlation still works.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// Recoverer catches panics in the handler chain, logs the stack trace, and
// writes a standardized 500 response. It MUST be the outermost handler.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.Logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)

				resp := APIErrorResponse{
					Error: ErrorDetail{
						Code:      string(types.ErrCodeInternalUnexpected),
						Message:   "an unexpected error occurred",
						RequestID: types.GetRequestID(r.Context()),
					},
				}
				JSON(w, r, http.StatusInternalServerError, resp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs request metadata after the handler chain completes
// and injects a request-scoped logger into the context so downstream code
// logs with the correlation ID attached.
func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := types.GetRequestID(r.Context())
		reqLogger := s.Logger.With("request_id", requestID)
		ctx := types.WithLogger(r.Context(), reqLogger)

		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rc, r.WithContext(ctx))

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rc.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		}
		switch {
		case rc.statusCode >= 500:
			reqLogger.Error("request completed", args...)
		case rc.statusCode >= 400:
			reqLogger.Warn("request completed", args...)
		default:
			reqLogger.Info("request completed", args...)
		}
	})
}

// SecurityHeadersMiddleware sets standard security response headers.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// ErrorLogCapture records 5xx responses into the error log table so they
// survive log retention and feed the archival job. Persistence is
// best-effort: a failed insert must never fail the request.
func (s *Server) ErrorLogCapture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ErrorLog == nil {
			next.ServeHTTP(w, r)
			return
		}

		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rc, r)

		if rc.statusCode < 500 {
			return
		}

		entry := &types.ErrorLogEntry{
			Route:   r.URL.Path,
			Method:  r.Method,
			Message: fmt.Sprintf("request failed with status %d", rc.statusCode),
			Detail: map[string]any{
				"status":     rc.statusCode,
				"request_id": types.GetRequestID(r.Context()),
				"body":       rc.bodyHead.String(),
			},
			CreatedAt: s.Clock.Now(),
		}
		if err := s.ErrorLog.Insert(r.Context(), entry); err != nil {
			s.Logger.Warn("error log insert failed", "error", err)
		}
	})
}

// CronAuth guards the operator trigger endpoints with a shared bearer
// secret. Comparison is constant-time to keep the secret unguessable via
// timing.
func (s *Server) CronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		secret := s.Config.Server.CronSecret.Unmask()

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthUnauthorized,
				"missing or invalid credentials",
				nil,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the token out of an "Authorization: Bearer x"
// header. Returns "" when the header is absent or malformed.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// Default rate limit for the public check-in surface. Keyed by client IP:
// tokens are unguessable, so the limiter only has to blunt brute-force
// scanning and accidental retry storms.
const (
	defaultRateLimitMax    = 60
	defaultRateLimitWindow = time.Minute
)

// rateLimiter is an in-memory sliding window limiter. Process-local state
// is acceptable here: the API runs as a single instance per region and a
// restart resetting the counters is harmless.
type rateLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	hits      map[string][]time.Time
	lastSweep time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// allow records a hit for key and reports whether it is within the limit.
// Keys whose window has fully elapsed are swept at most once per window, so
// a client cycling spoofed addresses cannot grow the map unbounded.
func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}

	l.hits[key] = append(kept, now)
	return true
}

// sweep drops keys with no hit inside the window. Hits are appended in
// time order, so checking the newest entry suffices.
func (l *rateLimiter) sweep(cutoff time.Time) {
	for k, ts := range l.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

// RateLimit rejects clients exceeding the sliding window with 429. It is
// applied to the public check-in routes only; operator endpoints are
// already behind CronAuth.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !s.limiter.allow(key, s.Clock.Now()) {
			s.Logger.Warn("rate limit exceeded",
				"client_ip", key,
				"method", r.Method,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.window.Seconds())))
			Error(w, r, types.NewAppError(
				types.ErrCodeRateLimit,
				"rate limit exceeded, retry later",
				nil,
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the originating client IP, preferring the first entry
// of X-Forwarded-For when the request came through the load balancer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
