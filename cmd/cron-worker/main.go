package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-payments/internal/cart"
	"github.com/angelmondragon/storefront-payments/internal/commerce"
	"github.com/angelmondragon/storefront-payments/internal/cron"
	"github.com/angelmondragon/storefront-payments/internal/inventory"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/instance"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/migrate"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/redis"
	"github.com/angelmondragon/storefront-payments/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	syncer, err := commerce.NewSyncer(commerce.SyncerParams{
		Transactor: dbClient,
		Orders:     ordersRepo,
		Creator:    squareClient,
		Emitter:    emitter,
		Logger:     logg,
		Currency:   cfg.Payments.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create commerce syncer", err)
		os.Exit(1)
	}
	applier, err := inventory.NewReconciler(dbClient, logg, inventory.WithConcurrency(cfg.Payments.InventoryConcurrency))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory reconciler", err)
		os.Exit(1)
	}
	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Transactor:  dbClient,
		Orders:      ordersRepo,
		Syncer:      syncer,
		Inventory:   applier,
		Carts:       cart.NewRepository(dbClient.DB()),
		Emitter:     emitter,
		Metrics:     metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:      logg,
		StepTimeout: cfg.Payments.StepTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewReconcileSweepJob(cron.ReconcileSweepJobParams{
		Logger:    logg,
		Orders:    ordersRepo,
		Resumer:   engine,
		Grace:     cfg.Cron.SweepGrace,
		BatchSize: cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile sweep job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        cfg.Outbox.RetentionDays,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	locker, err := cron.NewRedisLocker(redisClient, func(job string) string {
		return redisClient.LockKey(cronLockScope(cfg.App.Env, job))
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron locker", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(sweepJob, cfg.Cron.Interval)
	registry.Register(retentionJob, cfg.Cron.RetentionEvery)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
		LockTTL:  cfg.Cron.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"tick":        cfg.Cron.Tick.String(),
	})
	logg.Info(ctx, "starting cron worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer)
	})
	g.Go(func() error {
		if err := service.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func cronLockScope(env, job string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron:%s:%s", env, job)
}
