package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bugtrail/bugtrail/internal/analytics"
	"github.com/bugtrail/bugtrail/internal/app"
	"github.com/bugtrail/bugtrail/internal/auth"
	"github.com/bugtrail/bugtrail/internal/bugs"
	"github.com/bugtrail/bugtrail/internal/chat"
	"github.com/bugtrail/bugtrail/internal/observability"
	"github.com/bugtrail/bugtrail/internal/platform/cache"
	"github.com/bugtrail/bugtrail/internal/platform/db"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
	"github.com/bugtrail/bugtrail/internal/users"
	"github.com/bugtrail/bugtrail/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "bugtrail_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	bus := auth.NewBus()

	roleCache := rbac.RoleCacheFactory(func(userID string) rbac.RoleCache {
		return rbac.NewRedisRoleCache(redisClient, userID, cfg.RoleCacheTTL)
	})
	rbacMiddleware := rbac.Middleware{Profiles: authService, Cache: roleCache, Logger: logger}

	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, bus, roleCache)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	bugsRepo := bugs.NewRepository(dbpool)

	analyticsCache := analytics.NewCache(redisClient, 10*time.Minute)
	analyticsService := analytics.NewService(bugsRepo, analyticsCache)
	analyticsHandler := analytics.NewHandler(logger, analyticsService, rbacMiddleware)

	bugsService := bugs.NewService(bugsRepo, jobsClient, analyticsService, logger)
	bugsHandler := bugs.NewHandler(logger, bugsService, rbacMiddleware)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	hub := chat.NewHub()
	chatRepo := chat.NewRepository(dbpool)
	chatService := chat.NewService(chatRepo, hub, logger)
	chatHandler := chat.NewHandler(logger, chatService, hub, rbacMiddleware, authService,
		func(sess *rbac.Session) rbac.SessionSource {
			return auth.NewResolverSource(bus, sess)
		}, cfg.IsDevelopment())

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Pool:             dbpool,
		RBACMiddleware:   rbacMiddleware,
		AuthHandler:      authHandler,
		BugsHandler:      bugsHandler,
		UsersHandler:     usersHandler,
		AnalyticsHandler: analyticsHandler,
		ChatHandler:      chatHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
