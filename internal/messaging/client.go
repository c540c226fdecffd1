// Package messaging talks to the chat platform's push API. All outbound
// calls share one resilience path: a circuit breaker, bounded retries with
// jittered backoff, and mapping of transport failures to domain errors.
// The dispatcher treats any error from this package as a retryable send
// failure; permanent rejections (4xx other than 429) surface as errors too
// and burn attempts until the job's cap retires it.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"castline/internal/types"
)

// Messenger is the outbound surface the dispatcher and webhook depend on.
type Messenger interface {
	// Push delivers a text message to a chat user.
	Push(ctx context.Context, chatUserID, text string) error
	// Reply answers an inbound webhook event using its one-shot reply token.
	Reply(ctx context.Context, replyToken, text string) error
}

// RetryPolicy configures retry behavior for push API calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns defaults tuned for a worker tick: short
// enough that one slow recipient cannot eat the whole batch window.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    300 * time.Millisecond,
		MaxWait:    3 * time.Second,
	}
}

// Client is the HTTP implementation of Messenger.
type Client struct {
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	baseURL     string
	accessToken types.SecretString
	sleepFn     func(time.Duration) // for testability; defaults to time.Sleep
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSleepFunc overrides the sleep function used between retries.
// Intended for tests to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a push API client for the given base URL and channel
// access token.
func NewClient(baseURL string, accessToken types.SecretString, policy RetryPolicy, opts ...Option) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "chat-push",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		breaker:     cb,
		retryPolicy: policy,
		baseURL:     baseURL,
		accessToken: accessToken,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messagePayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string           `json:"to"`
	Messages []messagePayload `json:"messages"`
}

type replyRequest struct {
	ReplyToken string           `json:"replyToken"`
	Messages   []messagePayload `json:"messages"`
}

// Push implements Messenger.
func (c *Client) Push(ctx context.Context, chatUserID, text string) error {
	return c.post(ctx, "/v2/bot/message/push", pushRequest{
		To:       chatUserID,
		Messages: []messagePayload{{Type: "text", Text: text}},
	})
}

// Reply implements Messenger.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	return c.post(ctx, "/v2/bot/message/reply", replyRequest{
		ReplyToken: replyToken,
		Messages:   []messagePayload{{Type: "text", Text: text}},
	})
}

// post sends one JSON request through the breaker with retries on 429/5xx
// and network errors. 4xx other than 429 is a permanent rejection and is
// returned without retrying.
func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push request", err)
	}

	var lastStatus int
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, execErr := c.breaker.Execute(func() (*http.Response, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
			if reqErr != nil {
				return nil, reqErr
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.accessToken.Unmask())
			if traceID := types.GetRequestID(ctx); traceID != "" {
				req.Header.Set("X-B3-TraceId", traceID)
			}

			r, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count as breaker failures.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("push api returned %d", r.StatusCode)
			}
			return r, nil
		})

		if execErr == nil {
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return types.NewAppError(types.ErrCodeUpstreamMessaging,
					fmt.Sprintf("push api rejected message with %d", resp.StatusCode), nil)
			}
			return nil
		}

		lastErr = execErr
		if resp != nil {
			lastStatus = resp.StatusCode
			resp.Body.Close()
		}

		// An open breaker fails fast; there is no point sleeping through it.
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < maxAttempts-1 {
			c.sleepFn(c.backoff(attempt))
		}
	}

	msg := "push api unavailable"
	if lastStatus != 0 {
		msg = fmt.Sprintf("push api failed with %d after retries", lastStatus)
	}
	return types.NewAppError(types.ErrCodeUpstreamMessaging, msg, lastErr)
}

// backoff computes an exponential wait with full jitter, clamped to
// [MinWait, MaxWait].
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if max := float64(c.retryPolicy.MaxWait); base > max {
		base = max
	}
	min := float64(c.retryPolicy.MinWait)
	if base <= min {
		return c.retryPolicy.MinWait
	}
	return time.Duration(min + rand.Float64()*(base-min))
}
