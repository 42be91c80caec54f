package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenworks/studiobook-backend/api/routes"
	"github.com/lumenworks/studiobook-backend/internal/checkout"
	"github.com/lumenworks/studiobook-backend/internal/fees"
	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reconcile"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/internal/webhooks/gateway"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	"github.com/lumenworks/studiobook-backend/pkg/db"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/metrics"
	"github.com/lumenworks/studiobook-backend/pkg/migrate"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
	"github.com/lumenworks/studiobook-backend/pkg/redis"
	"github.com/lumenworks/studiobook-backend/pkg/square"
)

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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
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
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	reservationsRepo := reservations.NewRepository(dbClient.DB())
	ledger := payments.NewLedger(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	feeService, err := fees.NewService(fees.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create fee service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		Tx:           dbClient,
		Reservations: reservationsRepo,
		Ledger:       ledger,
		Outbox:       outboxService,
		Metrics:      reconcileMetrics,
		Logger:       logg,
		Config:       cfg.Reconcile,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Tx:           dbClient,
		Reservations: reservationsRepo,
		Ledger:       ledger,
		Fees:         feeService,
		Square:       squareClient,
		Logger:       logg,
		Config:       cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	webhookService, err := gateway.NewService(gateway.ServiceParams{
		Ledger:      ledger,
		Coordinator: reconcileService,
		Metrics:     reconcileMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := gateway.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "gateway")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			squareClient,
			reconcileService,
			checkoutService,
			reservationsRepo,
			webhookService,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
