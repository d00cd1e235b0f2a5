package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bugtrail/bugtrail/internal/analytics"
	"github.com/bugtrail/bugtrail/internal/app"
	"github.com/bugtrail/bugtrail/internal/auth"
	"github.com/bugtrail/bugtrail/internal/bugs"
	jobmetrics "github.com/bugtrail/bugtrail/internal/jobs"
	"github.com/bugtrail/bugtrail/internal/platform/cache"
	"github.com/bugtrail/bugtrail/internal/platform/db"
	"github.com/bugtrail/bugtrail/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)

	bugsRepo := bugs.NewRepository(pool)
	analyticsCache := analytics.NewCache(redisClient, 10*time.Minute)
	analyticsService := analytics.NewService(bugsRepo, analyticsCache)

	metrics := jobmetrics.NewMetrics(nil)

	mailer := &jobs.SMTPMailer{
		Addr:   fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		From:   cfg.SMTPFrom,
		Users:  authService,
		Logger: logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeNotifyAssignment, Handler: jobs.NewNotifyAssignmentHandler(logger, mailer, metrics)},
			{Type: jobs.TaskTypeAnalyticsWarmup, Handler: jobs.NewAnalyticsWarmupHandler(logger, analyticsService, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: jobs.NewAnalyticsWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
