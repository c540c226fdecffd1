// Package main is the entrypoint for the scheduler Lambda function.
//
// EventBridge rules invoke it with a payload of the form
// {"task": "...", "reference_time": "..."} and the handler multiplexes to
// the matching scheduled task: daily check-in fan-out, dispatch tick,
// expired-token purge, error-log archival, or the monthly level refresh.
//
// Cold start wires the pgx pool, repositories, messaging client, SQS wake
// trigger, and CloudWatch emitter once; invocations share them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"castline/internal/config"
	"castline/internal/db"
	"castline/internal/messaging"
	"castline/internal/metrics"
	"castline/internal/queue"
	"castline/internal/scheduler"
	"castline/internal/settings"
	"castline/internal/token"
	"castline/internal/types"
)

// Handler holds the scheduler service for the Lambda runtime.
type Handler struct {
	service *scheduler.Service
	logger  types.Logger
}

// Handle runs one scheduled task invocation.
func (h *Handler) Handle(ctx context.Context, p scheduler.Payload) (map[string]any, error) {
	h.logger.Info("scheduler invocation", "task", string(p.Task))
	result, err := h.service.Run(ctx, p)
	if err != nil {
		h.logger.Error("scheduled task failed", "task", string(p.Task), "error", err)
		return nil, err
	}
	return result, nil
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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	clock := types.RealClock{}

	streamerRepo := db.NewStreamerRepository(pool)
	tokenRepo := db.NewTokenRepository(pool)
	jobRepo := db.NewJobRepository(pool)
	checkinRepo := db.NewCheckinRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)
	errorLogRepo := db.NewErrorLogRepository(pool)

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
		emitter = metrics.NewCloudWatchEmitter(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	var waker scheduler.Waker
	if cfg.AWS.DispatchQueueURL != "" {
		waker = queue.NewWakeTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.DispatchQueueURL, logger)
	}

	dispatcher := queue.NewDispatcher(
		jobRepo, streamerRepo, tokenStore, checkinRepo, settingsSvc,
		messenger, emitter, clock, logger, cfg.Server.CheckinBaseURL,
	)
	archiver := scheduler.NewErrorLogArchiver(errorLogRepo, logger)
	service := scheduler.NewService(
		streamerRepo, jobRepo, tokenStore, tokenRepo, checkinRepo,
		dispatcher, archiver, waker, settingsSvc,
		emitter, clock, logger,
	)

	return &Handler{service: service, logger: logger}, nil
}
