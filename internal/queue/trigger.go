package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"castline/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// WakeMessage asks a dispatch worker to run a tick soon. It carries no work
// of its own: the jobs live in Postgres and the claim query is the source
// of truth. Dropping or duplicating a wake message is harmless; the next
// scheduled tick drains the queue regardless.
type WakeMessage struct {
	TraceID  string    `json:"trace_id"`
	Date     string    `json:"date"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queued_at"`
}

// WakeTrigger publishes wake messages to the dispatch queue.
type WakeTrigger struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewWakeTrigger creates a WakeTrigger for the given dispatch queue URL.
func NewWakeTrigger(client SQSSender, queueURL string, logger types.Logger) *WakeTrigger {
	return &WakeTrigger{client: client, queueURL: queueURL, logger: logger}
}

// Wake sends one wake message. Called after the daily fan-out so freshly
// enqueued jobs go out without waiting for the next scheduled tick.
func (t *WakeTrigger) Wake(ctx context.Context, date, reason string) error {
	msg := WakeMessage{
		TraceID:  uuid.NewString(),
		Date:     date,
		Reason:   reason,
		QueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal wake message: %w", err)
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send wake message to %s: %w", t.queueURL, err)
	}

	t.logger.Info("dispatch wake message sent",
		"queue_url", t.queueURL,
		"trace_id", msg.TraceID,
		"date", date,
		"reason", reason,
	)
	return nil
}
