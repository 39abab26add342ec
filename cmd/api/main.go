package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-payments/api/routes"
	"github.com/angelmondragon/storefront-payments/internal/cart"
	"github.com/angelmondragon/storefront-payments/internal/commerce"
	"github.com/angelmondragon/storefront-payments/internal/inventory"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/internal/payments"
	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/instance"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/migrate"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/paystack"
	"github.com/angelmondragon/storefront-payments/pkg/redis"
	"github.com/angelmondragon/storefront-payments/pkg/square"
)

const webhookDedupeScope = "paystack-webhook"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	gateway, err := paystack.NewClientFromConfig(cfg.Paystack)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	guard, err := payments.NewIdempotencyGuard(redisClient, cfg.Payments.WebhookDedupeTTL, webhookDedupeScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Gateway:       gateway,
		Reconciler:    engine,
		Orders:        ordersRepo,
		Guard:         guard,
		Logger:        logg,
		WebhookSecret: cfg.Paystack.WebhookSecret(),
		SuccessURL:    cfg.Payments.SuccessRedirectURL,
		FailureURL:    cfg.Payments.FailureRedirectURL,
		CallbackURL:   cfg.Payments.CallbackURL,
		Currency:      cfg.Payments.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, paymentsService, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
