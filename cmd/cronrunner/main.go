// Package main is the self-hosted alternative to the EventBridge + Lambda
// deployment: a single long-running process that drives the same scheduler
// service from robfig/cron specs.
//
// Schedules (overridable via CRON_*_SPEC):
//   - fan-out of daily check-in jobs, evenings
//   - dispatch tick, every few minutes
//   - maintenance (token purge + error-log archival), after the 05:00
//     business-day boundary
//   - level refresh, monthly
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"castline/internal/businessday"
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

	logger := types.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	logger.Info("castline cronrunner starting", "environment", cfg.Environment)

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

	// Self-hosted runs dispatch in-process, so there is no queue to wake
	// and no CloudWatch to emit to.
	dispatcher := queue.NewDispatcher(
		jobRepo, streamerRepo, tokenStore, checkinRepo, settingsSvc,
		messenger, metrics.NopEmitter{}, clock, logger, cfg.Server.CheckinBaseURL,
	)
	archiver := scheduler.NewErrorLogArchiver(errorLogRepo, logger)
	service := scheduler.NewService(
		streamerRepo, jobRepo, tokenStore, tokenRepo, checkinRepo,
		dispatcher, archiver, nil, settingsSvc,
		metrics.NopEmitter{}, clock, logger,
	)

	runner := cron.New(cron.WithLocation(businessday.Zone()))
	schedule := func(spec string, tasks ...scheduler.TaskType) error {
		_, err := runner.AddFunc(spec, func() {
			for _, task := range tasks {
				if _, err := service.Run(ctx, scheduler.Payload{Task: task}); err != nil {
					logger.Error("scheduled task failed", "task", string(task), "error", err)
				}
			}
		})
		if err != nil {
			return fmt.Errorf("registering %q: %w", spec, err)
		}
		return nil
	}

	if err := schedule(cfg.Cron.FanoutSpec, scheduler.TaskDailyFanout); err != nil {
		return err
	}
	if err := schedule(cfg.Cron.DispatchSpec, scheduler.TaskDispatchTick); err != nil {
		return err
	}
	if err := schedule(cfg.Cron.MaintSpec, scheduler.TaskPurgeExpiredTokens, scheduler.TaskArchiveErrorLogs); err != nil {
		return err
	}
	if err := schedule(cfg.Cron.RefreshSpec, scheduler.TaskRefreshLevels); err != nil {
		return err
	}

	runner.Start()
	logger.Info("cron schedules registered",
		"fanout", cfg.Cron.FanoutSpec,
		"dispatch", cfg.Cron.DispatchSpec,
		"maintenance", cfg.Cron.MaintSpec,
		"refresh", cfg.Cron.RefreshSpec,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Let any in-flight task finish before closing the pool.
	<-runner.Stop().Done()
	logger.Info("cronrunner stopped cleanly")
	return nil
}
