// Package handlers implements the HTTP route handlers of the castline API:
// the public check-in form endpoints, the inbound messaging webhook, and
// the operator surface (job listing, manual reminders, cron triggers).
package handlers

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"castline/internal/checkin"
	"castline/internal/classifier"
	"castline/internal/core"
	"castline/internal/messaging"
	"castline/internal/scheduler"
	"castline/internal/types"
)

// CheckinService is the check-in submission flow.
type CheckinService interface {
	Verify(ctx context.Context, rawToken string) (*checkin.VerifyResult, error)
	Submit(ctx context.Context, rawToken string, req checkin.SubmitRequest) (*checkin.SubmitResult, error)
}

// TokenIssuer reissues check-in tokens for the webhook and reminder paths.
type TokenIssuer interface {
	Reissue(ctx context.Context, streamerID, date string) (string, bool, error)
}

// StreamerDirectory resolves streamers for webhook and reminder lookups.
type StreamerDirectory interface {
	Get(ctx context.Context, id string) (*types.Streamer, error)
	GetByChatUserID(ctx context.Context, chatUserID string) (*types.Streamer, error)
}

// JobStore exposes the read side of the notification job table.
type JobStore interface {
	ListForDate(ctx context.Context, date string) ([]*types.NotificationJob, error)
	CountByStatus(ctx context.Context, date string) (map[types.JobStatus]int, error)
}

// CatalogSource supplies the message catalog snapshot.
type CatalogSource interface {
	Catalog(ctx context.Context) (classifier.Catalog, error)
}

// CronRunner executes scheduled tasks on demand for the operator trigger
// endpoint.
type CronRunner interface {
	Run(ctx context.Context, p scheduler.Payload) (map[string]any, error)
}

// Handlers bundles the route handlers and their dependencies.
type Handlers struct {
	Checkins  CheckinService
	Tokens    TokenIssuer
	Streamers StreamerDirectory
	Jobs      JobStore
	Settings  CatalogSource
	Messenger messaging.Messenger
	Cron      CronRunner
	Clock     types.Clock
	Logger    types.Logger

	// ChannelSecret signs inbound webhook payloads.
	ChannelSecret types.SecretString
	// CheckinBaseURL is the public origin check-in links point at.
	CheckinBaseURL string

	validate *validator.Validate
}

// New constructs the handler set.
func New(
	checkins CheckinService,
	tokens TokenIssuer,
	streamers StreamerDirectory,
	jobs JobStore,
	settings CatalogSource,
	messenger messaging.Messenger,
	cron CronRunner,
	clock types.Clock,
	logger types.Logger,
	channelSecret types.SecretString,
	checkinBaseURL string,
) *Handlers {
	return &Handlers{
		Checkins:       checkins,
		Tokens:         tokens,
		Streamers:      streamers,
		Jobs:           jobs,
		Settings:       settings,
		Messenger:      messenger,
		Cron:           cron,
		Clock:          clock,
		Logger:         logger,
		ChannelSecret:  channelSecret,
		CheckinBaseURL: checkinBaseURL,
		validate:       validator.New(),
	}
}

// Mount registers all routes on the server's router. The public check-in
// endpoints sit behind the rate limiter; the operator endpoints behind the
// cron bearer secret. The webhook authenticates itself via its payload
// signature.
func (h *Handlers) Mount(s *core.Server) {
	r := s.Router()

	r.Route("/api/checkin", func(r chi.Router) {
		r.Use(s.RateLimit)
		r.Get("/verify", h.HandleCheckinVerify)
		r.Post("/submit", h.HandleCheckinSubmit)
	})

	r.Post("/webhook/messaging", h.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.CronAuth)
		r.Get("/api/jobs", h.HandleListJobs)
		r.Post("/api/reminders", h.HandleSendReminders)
		r.Post("/internal/cron/{task}", h.HandleCronTrigger)
	})
}

// checkinURL builds the public form link for a raw token.
func (h *Handlers) checkinURL(raw string) string {
	return h.CheckinBaseURL + "/checkin?token=" + raw
}
