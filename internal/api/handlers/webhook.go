package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"castline/internal/businessday"
	"castline/internal/core"
	"castline/internal/types"
)

// signatureHeader carries the base64 HMAC-SHA256 of the raw request body,
// keyed with the channel secret.
const signatureHeader = "X-Line-Signature"

// maxWebhookBody bounds the inbound webhook payload (1 MB).
const maxWebhookBody = 1 << 20

type webhookSource struct {
	UserID string `json:"userId"`
}

type webhookMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type webhookEvent struct {
	Type       string         `json:"type"`
	ReplyToken string         `json:"replyToken"`
	Source     webhookSource  `json:"source"`
	Message    webhookMessage `json:"message"`
}

type webhookRequest struct {
	Events []webhookEvent `json:"events"`
}

// HandleWebhook receives inbound messaging events. A registered streamer
// sending the configured stream-end keyword gets a fresh check-in link in
// reply; a consumed token gets a polite already-done reply instead.
//
// Event processing is best-effort: after the signature verifies, the
// handler always answers 200 so the platform does not retry-storm over a
// single bad event.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	if !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthBadSignature, "webhook signature verification failed", nil))
		return
	}

	// Platform payloads carry fields beyond what we consume, so this
	// decode is deliberately lenient.
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON, "malformed webhook payload", err))
		return
	}

	logger := types.LoggerFromContext(r.Context())
	for _, ev := range req.Events {
		if err := h.processWebhookEvent(r, ev); err != nil {
			logger.Warn("webhook event processing failed",
				"event_type", ev.Type,
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "ok"}})
}

func (h *Handlers) processWebhookEvent(r *http.Request, ev webhookEvent) error {
	if ev.Type != "message" || ev.Message.Type != "text" {
		return nil
	}
	ctx := r.Context()

	catalog, err := h.Settings.Catalog(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(ev.Message.Text, catalog.StreamEndKeyword()) {
		return nil
	}

	streamer, err := h.Streamers.GetByChatUserID(ctx, ev.Source.UserID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundStreamer) {
			// Messages from unregistered accounts are ignored.
			return nil
		}
		return err
	}

	date := businessday.DateOf(h.Clock.Now())
	raw, ok, err := h.Tokens.Reissue(ctx, streamer.ID, date)
	if err != nil {
		return err
	}
	if !ok {
		return h.Messenger.Reply(ctx, ev.ReplyToken, catalog.StreamEndUsed())
	}
	return h.Messenger.Reply(ctx, ev.ReplyToken, catalog.StreamEndReply(h.checkinURL(raw)))
}

// verifySignature checks the payload HMAC in constant time.
func (h *Handlers) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.ChannelSecret.Unmask()))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
