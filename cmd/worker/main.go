package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flooringops/opsdesk/internal/app"
	"github.com/flooringops/opsdesk/internal/observability"
	"github.com/flooringops/opsdesk/internal/platform/cache"
	"github.com/flooringops/opsdesk/internal/platform/db"
	"github.com/flooringops/opsdesk/internal/reports"
	"github.com/flooringops/opsdesk/internal/sales"
	"github.com/flooringops/opsdesk/internal/shared"
	"github.com/flooringops/opsdesk/internal/tasks"
	"github.com/flooringops/opsdesk/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.QueueRedis()
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(queue, logger)
	registry := observability.NewMetrics()
	metrics := registry.Jobs()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	salesService := sales.NewService(sales.NewRepository(pool), sales.Dependencies{
		Audit:    shared.NewAuditLogger(pool),
		Notifier: notifier,
		Cache:    reports.NewCache(redisClient, cfg.ReportCacheTTL),
		Logger:   logger,
	}, sales.ServiceConfig{PaymentTermsDays: cfg.InvoicePaymentTermsDays})
	tasksService := tasks.NewService(tasks.NewRepository(pool), tasks.ServiceConfig{
		Logger:       logger,
		FollowUpDays: cfg.QuoteFollowUpDays,
	})

	sweeps := &jobs.Sweeps{
		Invoices: salesService,
		Tasks:    tasksService,
		Keys:     idempotencyStore,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
	}
	retry := []asynq.Option{asynq.MaxRetry(3)}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifySend, Handler: jobs.NotifyHandler(logger, metrics, nil)},
			{Type: jobs.TaskInvoicesMarkOverdue, Handler: sweeps.HandleMarkOverdue},
			{Type: jobs.TaskQuotesFollowUp, Handler: sweeps.HandleQuoteFollowUp},
			{Type: jobs.TaskIdempotencyCleanup, Handler: sweeps.HandleIdempotencyCleanup},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 * * * *", Task: jobs.NewMarkOverdueTask(), Options: retry},
			{Spec: "0 8 * * *", Task: jobs.NewQuoteFollowUpTask(), Options: retry},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: retry},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: registry.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if cfg.WorkerMetricsAddr != "" {
		go func() {
			logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
