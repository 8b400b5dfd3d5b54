package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentsites/agentsites/internal/app"
	"github.com/agentsites/agentsites/internal/identity"
	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/platform/cache"
	"github.com/agentsites/agentsites/internal/platform/db"
	"github.com/agentsites/agentsites/internal/propagation"
	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
	"github.com/agentsites/agentsites/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := jobmetrics.NewMetrics(nil)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)

	identityProvider := identity.NewProvider(identity.ProviderConfig{
		Verifier:   identity.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer),
		Store:      identity.NewRepository(pool),
		Cache:      redisClient,
		CacheTTL:   cfg.IdentityCacheTTL,
		UberEmails: cfg.UberAdminEmails,
		Logger:     logger,
	})
	siteService := sites.NewService(sites.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	propagationRepo := propagation.NewRepository(pool)
	pusher := propagation.NewPusher(propagation.PusherConfig{
		Records:     propagationRepo,
		Sites:       siteService,
		Entities:    propagation.NewEntityStore(pool),
		Approvals:   approvalRecorder,
		Redis:       redisClient,
		LockTTL:     cfg.PropagationLockTTL,
		Concurrency: cfg.PropagationConcurrency,
		SiteTimeout: cfg.PropagationSiteTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})

	pushJob := jobs.NewPropagationPushJob(identityProvider, pusher, logger, metrics)
	stuckJob := jobs.NewStuckScanJob(propagationRepo, logger, metrics)

	stuckTask, err := jobs.NewStuckScanTask(cfg.StuckScanAge)
	if err != nil {
		logger.Error("build stuck scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().QueueOpt(),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPropagationPush, Handler: pushJob.Handle},
			{Type: jobs.TaskPropagationStuckScan, Handler: stuckJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StuckScanCron, Task: stuckTask},
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
