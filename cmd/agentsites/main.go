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

	"github.com/agentsites/agentsites/internal/app"
	"github.com/agentsites/agentsites/internal/identity"
	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/observability"
	"github.com/agentsites/agentsites/internal/platform/cache"
	"github.com/agentsites/agentsites/internal/platform/db"
	"github.com/agentsites/agentsites/internal/propagation"
	propagationhttp "github.com/agentsites/agentsites/internal/propagation/http"
	"github.com/agentsites/agentsites/internal/rbac"
	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
	"github.com/agentsites/agentsites/jobs"
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

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)

	identityProvider := identity.NewProvider(identity.ProviderConfig{
		Verifier:   identity.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer),
		Store:      identity.NewRepository(dbpool),
		Cache:      redisClient,
		CacheTTL:   cfg.IdentityCacheTTL,
		UberEmails: cfg.UberAdminEmails,
		Logger:     logger,
	})

	siteService := sites.NewService(sites.NewRepository(dbpool), auditLogger, logger)
	sitesHandler := sites.NewHandler(logger, siteService)

	rbacService := rbac.NewService(rbac.NewRepository(dbpool), siteService, identityProvider, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger, Denials: metrics}
	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	propagationRepo := propagation.NewRepository(dbpool)
	propagationService := propagation.NewService(propagationRepo, siteService, approvalRecorder, auditLogger, logger)
	pusher := propagation.NewPusher(propagation.PusherConfig{
		Records:     propagationRepo,
		Sites:       siteService,
		Entities:    propagation.NewEntityStore(dbpool),
		Approvals:   approvalRecorder,
		Redis:       redisClient,
		LockTTL:     cfg.PropagationLockTTL,
		Concurrency: cfg.PropagationConcurrency,
		SiteTimeout: cfg.PropagationSiteTimeout,
		Metrics:     jobMetrics,
		Logger:      logger,
	})

	redisOpts := cfg.Redis().QueueOpt()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	propagationHandler := propagationhttp.NewHandler(logger, propagationService, pusher, jobClient)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticate:       identityProvider.Authenticate,
		RBACMiddleware:     rbacMiddleware,
		SitesHandler:       sitesHandler,
		RBACHandler:        rbacHandler,
		PropagationHandler: propagationHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
