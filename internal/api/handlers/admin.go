package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"castline/internal/businessday"
	"castline/internal/core"
	"castline/internal/scheduler"
	"castline/internal/types"
)

type jobDTO struct {
	ID         string     `json:"id"`
	StreamerID string     `json:"streamer_id"`
	Date       string     `json:"date"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type listJobsResponse struct {
	Date   string         `json:"date"`
	Counts map[string]int `json:"counts"`
	Jobs   []jobDTO       `json:"jobs"`
}

// HandleListJobs returns the notification jobs for one business date
// together with per-status counts. GET /api/jobs?date=YYYY-MM-DD; the
// date defaults to today.
func (h *Handlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = businessday.DateOf(h.Clock.Now())
	} else if _, err := businessday.Parse(date); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidDate, "date must be YYYY-MM-DD", err))
		return
	}

	jobs, err := h.Jobs.ListForDate(r.Context(), date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	counts, err := h.Jobs.CountByStatus(r.Context(), date)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := listJobsResponse{
		Date:   date,
		Counts: make(map[string]int, len(counts)),
		Jobs:   make([]jobDTO, 0, len(jobs)),
	}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobDTO{
			ID:         j.ID,
			StreamerID: j.StreamerID,
			Date:       j.Date,
			Kind:       string(j.Kind),
			Status:     string(j.Status),
			Attempts:   j.Attempts,
			LastError:  j.LastError,
			LockedAt:   j.LockedAt,
			CreatedAt:  j.CreatedAt,
			UpdatedAt:  j.UpdatedAt,
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

type remindersRequest struct {
	StreamerIDs []string `json:"streamer_ids" validate:"required,min=1,max=100,dive,required"`
	Date        string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// reminderResult reports the outcome for one requested streamer. Statuses
// are "sent", "skipped", and "failed"; Reason is set for the latter two.
type reminderResult struct {
	StreamerID string `json:"streamer_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// HandleSendReminders reissues tokens for the selected streamers and
// pushes a reminder immediately, bypassing the job queue. Failures are
// reported per streamer; one bad recipient never aborts the rest.
// POST /api/reminders.
func (h *Handlers) HandleSendReminders(w http.ResponseWriter, r *http.Request) {
	var req remindersRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	date := req.Date
	if date == "" {
		date = businessday.DateOf(h.Clock.Now())
	}

	catalog, err := h.Settings.Catalog(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	results := make([]reminderResult, 0, len(req.StreamerIDs))
	for _, id := range req.StreamerIDs {
		results = append(results, h.sendReminder(r, id, date, catalog))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"date":    date,
		"results": results,
	}})
}

func (h *Handlers) sendReminder(r *http.Request, streamerID, date string, catalog catalogReplier) reminderResult {
	ctx := r.Context()

	streamer, err := h.Streamers.Get(ctx, streamerID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundStreamer) {
			return reminderResult{StreamerID: streamerID, Status: "skipped", Reason: "streamer_missing"}
		}
		return reminderResult{StreamerID: streamerID, Status: "failed", Reason: err.Error()}
	}
	if !streamer.Notifiable() {
		return reminderResult{StreamerID: streamerID, Status: "skipped", Reason: "recipient_ineligible"}
	}

	raw, ok, err := h.Tokens.Reissue(ctx, streamer.ID, date)
	if err != nil {
		return reminderResult{StreamerID: streamerID, Status: "failed", Reason: err.Error()}
	}
	if !ok {
		return reminderResult{StreamerID: streamerID, Status: "skipped", Reason: "already_submitted"}
	}

	text := catalog.Reminder(streamer.DisplayName, h.checkinURL(raw), date)
	if err := h.Messenger.Push(ctx, streamer.ChatUserID, text); err != nil {
		return reminderResult{StreamerID: streamerID, Status: "failed", Reason: err.Error()}
	}
	return reminderResult{StreamerID: streamerID, Status: "sent"}
}

// catalogReplier is the slice of the message catalog the reminder path
// needs.
type catalogReplier interface {
	Reminder(name, url, date string) string
}

// triggerableTasks are the scheduled tasks the operator may run manually.
var triggerableTasks = map[scheduler.TaskType]bool{
	scheduler.TaskDailyFanout:        true,
	scheduler.TaskDispatchTick:       true,
	scheduler.TaskPurgeExpiredTokens: true,
	scheduler.TaskArchiveErrorLogs:   true,
	scheduler.TaskRefreshLevels:      true,
}

type cronTriggerRequest struct {
	ReferenceTime *time.Time `json:"reference_time"`
}

// HandleCronTrigger runs one scheduled task on demand.
// POST /internal/cron/{task}, optionally with {"reference_time": ...}.
func (h *Handlers) HandleCronTrigger(w http.ResponseWriter, r *http.Request) {
	task := scheduler.TaskType(chi.URLParam(r, "task"))
	if !triggerableTasks[task] {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundJob, "unknown scheduled task", nil))
		return
	}

	payload := scheduler.Payload{Task: task}
	if r.ContentLength > 0 {
		var req cronTriggerRequest
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		payload.ReferenceTime = req.ReferenceTime
	}

	result, err := h.Cron.Run(r.Context(), payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"task":   string(task),
		"result": result,
	}})
}
