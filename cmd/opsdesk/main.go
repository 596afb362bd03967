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

	"github.com/hibiken/asynq"

	"github.com/flooringops/opsdesk/cmd/opsdesk/cli"
	"github.com/flooringops/opsdesk/internal/app"
	"github.com/flooringops/opsdesk/internal/auth"
	"github.com/flooringops/opsdesk/internal/inventory"
	"github.com/flooringops/opsdesk/internal/observability"
	"github.com/flooringops/opsdesk/internal/platform/blob"
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

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.BlobEndpoint,
		Region:    cfg.BlobRegion,
		Bucket:    cfg.BlobBucket,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
	})
	if err != nil {
		logger.Error("init blob storage", slog.Any("error", err))
		os.Exit(1)
	}
	if !cfg.BlobEnabled() {
		logger.Warn("blob storage not configured, job photos will be rejected")
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	redisOpts := cfg.QueueRedis()
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(queue, logger)

	reportCache := reports.NewCache(redisClient, cfg.ReportCacheTTL)
	if err := reportCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("report cache invalidation listener", slog.Any("error", err))
	}

	authService := auth.NewService(cfg.AuthJWTSecret, cfg.AuthJWTIssuer)
	authHandler := auth.NewHandler(logger, authService)

	salesService := sales.NewService(sales.NewRepository(dbpool), sales.Dependencies{
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Blobs:       blobs,
		Notifier:    notifier,
		Cache:       reportCache,
		Events:      metrics,
		Logger:      logger,
	}, sales.ServiceConfig{
		PaymentTermsDays: cfg.InvoicePaymentTermsDays,
		JobStartProgress: cfg.JobStartProgress,
	})

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), inventory.ServiceConfig{
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Cache:       reportCache,
		Logger:      logger,
	})

	tasksService := tasks.NewService(tasks.NewRepository(dbpool), tasks.ServiceConfig{
		Logger:       logger,
		FollowUpDays: cfg.QuoteFollowUpDays,
	})

	reportsService := reports.NewService(reports.NewRepository(dbpool), reportCache, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      authHandler,
		SalesHandler:     sales.NewHandler(logger, salesService, auth.RequireStaff),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, auth.RequireStaff),
		TasksHandler:     tasks.NewHandler(logger, tasksService),
		ReportsHandler:   reports.NewHandler(logger, reportsService, auth.RequireStaff),
		JobHandler:       jobs.NewHandler(inspector, logger),
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// runCommand handles the operator subcommands:
//
//	opsdesk jobs trigger <overdue|follow-up>
//	opsdesk jobs stats
//	opsdesk token <actor-id> <admin|staff|installer>
func runCommand(ctx context.Context, cfg *app.Config, args []string) error {
	switch {
	case len(args) == 3 && args[0] == "jobs" && args[1] == "trigger":
		c := cli.NewJobsCLI(cfg.QueueRedis())
		defer c.Close()
		info, err := c.Trigger(ctx, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
		return nil
	case len(args) == 2 && args[0] == "jobs" && args[1] == "stats":
		c := cli.NewJobsCLI(cfg.QueueRedis())
		defer c.Close()
		stats, err := c.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case len(args) == 3 && args[0] == "token":
		role := shared.Role(args[2])
		if role != shared.RoleAdmin && role != shared.RoleStaff && role != shared.RoleInstaller {
			return fmt.Errorf("unknown role %q", args[2])
		}
		token, err := auth.NewService(cfg.AuthJWTSecret, cfg.AuthJWTIssuer).Issue(shared.Actor{ID: args[1], Role: role}, 12*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}
	return fmt.Errorf("unknown command %v", args)
}
