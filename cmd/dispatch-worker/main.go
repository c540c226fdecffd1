// Package main is the entrypoint for the dispatch worker Lambda function.
//
// It consumes wake messages from the dispatch SQS queue. Each message is
// only a trigger: the worker runs one dispatch tick, which claims due
// notification jobs from Postgres under FOR UPDATE SKIP LOCKED and sends
// them. Because the claim is the mutual exclusion point, duplicate or
// dropped wake messages are harmless.
//
// A failed tick is reported as a partial batch failure so SQS redelivers
// that wake message; jobs themselves never live in the queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"castline/internal/config"
	"castline/internal/db"
	"castline/internal/messaging"
	"castline/internal/metrics"
	"castline/internal/queue"
	"castline/internal/settings"
	"castline/internal/token"
	"castline/internal/types"
)

// Handler holds the dispatcher for the Lambda runtime.
type Handler struct {
	dispatcher *queue.Dispatcher
	logger     types.Logger
}

// Handle processes an SQS event. One tick per wake message; messages whose
// tick fails are returned as batch item failures for redelivery.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		var wake queue.WakeMessage
		if err := json.Unmarshal([]byte(record.Body), &wake); err != nil {
			// A malformed wake message carries no work; ack it.
			h.logger.Warn("discarding malformed wake message",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}

		logger := h.logger.With("trace_id", wake.TraceID, "reason", wake.Reason)
		result, err := h.dispatcher.Tick(ctx)
		if err != nil {
			logger.Error("dispatch tick failed", "error", err)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			continue
		}
		logger.Info("dispatch tick completed",
			"claimed", result.Claimed,
			"sent", result.Sent,
			"skipped", result.Skipped,
			"requeued", result.Requeued,
			"failed", result.Failed,
		)
	}

	return response, nil
}

func main() {
	handler, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.Handle)
}

func newHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := types.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	clock := types.RealClock{}

	streamerRepo := db.NewStreamerRepository(pool)
	tokenRepo := db.NewTokenRepository(pool)
	jobRepo := db.NewJobRepository(pool)
	checkinRepo := db.NewCheckinRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)

	tokenStore := token.NewStore(tokenRepo, clock, uuid.NewString)
	settingsSvc := settings.NewService(settingsRepo)

	messenger := messaging.NewClient(
		cfg.Messaging.APIBaseURL,
		cfg.Messaging.AccessToken,
		messaging.DefaultRetryPolicy(),
		messaging.WithHTTPClient(&http.Client{Timeout: cfg.Messaging.Timeout}),
	)

	var emitter metrics.Emitter = metrics.NopEmitter{}
	if cfg.AWS.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		emitter = metrics.NewCloudWatchEmitter(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	dispatcher := queue.NewDispatcher(
		jobRepo, streamerRepo, tokenStore, checkinRepo, settingsSvc,
		messenger, emitter, clock, logger, cfg.Server.CheckinBaseURL,
	)

	return &Handler{dispatcher: dispatcher, logger: logger}, nil
}
