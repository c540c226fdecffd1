// Package main is the entry point for the castline API server.
//
// It loads configuration, connects the pgx pool, wires the token, check-in,
// settings, messaging, and scheduler services, builds the HTTP server on the
// core chassis, and serves until SIGINT/SIGTERM with graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"castline/internal/api/handlers"
	"castline/internal/checkin"
	"castline/internal/config"
	"castline/internal/core"
	"castline/internal/db"
	"castline/internal/messaging"
	"castline/internal/metrics"
	"castline/internal/queue"
	"castline/internal/scheduler"
	"castline/internal/settings"
	"castline/internal/token"
	"castline/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := types.NewSlogLogger(newLogger(cfg.LogLevel))
	logger.Info("castline API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

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

	checkinSvc := checkin.NewService(tokenStore, checkinRepo, streamerRepo, settingsSvc, jobRepo, logger)

	emitter, waker := awsIntegrations(ctx, cfg, logger)

	dispatcher := queue.NewDispatcher(
		jobRepo, streamerRepo, tokenStore, checkinRepo, settingsSvc,
		messenger, emitter, clock, logger, cfg.Server.CheckinBaseURL,
	)
	archiver := scheduler.NewErrorLogArchiver(errorLogRepo, logger)
	schedSvc := scheduler.NewService(
		streamerRepo, jobRepo, tokenStore, tokenRepo, checkinRepo,
		dispatcher, archiver, waker, settingsSvc,
		emitter, clock, logger,
	)

	srv, err := core.NewServer(cfg, logger, errorLogRepo)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	h := handlers.New(
		checkinSvc, tokenStore, streamerRepo, jobRepo, settingsSvc,
		messenger, schedSvc, clock, logger,
		cfg.Messaging.ChannelSecret, cfg.Server.CheckinBaseURL,
	)
	h.Mount(srv)

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// awsIntegrations builds the optional CloudWatch emitter and SQS waker.
// Both degrade to disabled when the AWS config cannot be resolved so local
// runs need no credentials.
func awsIntegrations(ctx context.Context, cfg *config.Config, logger types.Logger) (metrics.Emitter, scheduler.Waker) {
	if !cfg.AWS.MetricsEnabled && cfg.AWS.DispatchQueueURL == "" {
		return metrics.NopEmitter{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("AWS config unavailable, metrics and queue wake disabled", "error", err)
		return metrics.NopEmitter{}, nil
	}

	var emitter metrics.Emitter = metrics.NopEmitter{}
	if cfg.AWS.MetricsEnabled {
		emitter = metrics.NewCloudWatchEmitter(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	var waker scheduler.Waker
	if cfg.AWS.DispatchQueueURL != "" {
		waker = queue.NewWakeTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.DispatchQueueURL, logger)
	}
	return emitter, waker
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
