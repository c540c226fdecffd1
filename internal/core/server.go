// Package core provides the API chassis for the castline platform: a chi
// router wired with the cross-cutting concerns (request correlation,
// structured request logging, panic recovery, operator auth, rate limiting,
// and error-log capture) that every route shares. Domain handlers are
// mounted on top by the api package.
package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"castline/internal/config"
	"castline/internal/types"
)

// requestTimeout bounds handler execution. Check-in submissions do a
// handful of single-row queries plus one classifier pass, so anything
// beyond this indicates a stuck dependency.
const requestTimeout = 25 * time.Second

// ErrorLogSink receives server-side error records for later archival.
// Implemented by db.ErrorLogRepository.
type ErrorLogSink interface {
	Insert(ctx context.Context, entry *types.ErrorLogEntry) error
}

// Server encapsulates the shared dependencies of the HTTP API, allowing
// injection during testing and distinct configuration per environment.
type Server struct {
	Config   *config.Config
	Logger   types.Logger
	ErrorLog ErrorLogSink // optional; nil disables error-log capture
	Clock    types.Clock

	router  *chi.Mux
	limiter *rateLimiter
}

// NewServer prepares the router and registers the global middleware chain.
// Route mounting is left to the caller so tests can register only what
// they exercise.
func NewServer(cfg *config.Config, logger types.Logger, errorLog ErrorLogSink) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:   cfg,
		Logger:   logger,
		ErrorLog: errorLog,
		Clock:    types.RealClock{},
		router:   chi.NewRouter(),
		limiter:  newRateLimiter(defaultRateLimitMax, defaultRateLimitWindow),
	}
	s.registerGlobalMiddleware()

	return s, nil
}

// registerGlobalMiddleware installs the chassis chain. Order matters:
// Recoverer is outermost so every panic is caught, RequestID runs before
// the logger so completion logs carry the correlation ID.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(s.RequestLogger)
	s.router.Use(s.ErrorLogCapture)
	s.router.Use(ContextTimeoutMiddleware(requestTimeout))

	s.router.Get("/health", s.HandleHealth)
}

// Handler returns the http.Handler for the router. Used by
// http.ListenAndServe locally and the Lambda adapter in production.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HandleHealth reports process liveness. It deliberately avoids touching
// the database so a degraded dependency does not flap the load balancer.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"status":  "ok",
		"service": s.Config.Service,
	}})
}

// ContextTimeoutMiddleware applies a deadline to each request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
