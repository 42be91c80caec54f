package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenworks/studiobook-backend/internal/cron"
	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
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
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "cron-worker"

	logg := logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return fmt.Errorf("bootstrap square client: %w", err)
	}

	expiryJob, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:       logg,
		DB:           dbClient,
		Ledger:       payments.NewLedger(dbClient.DB()),
		Reservations: reservations.NewRepository(dbClient.DB()),
		Outbox:       outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Square:       squareClient,
		LinkTTL:      cfg.Checkout.PaymentLinkTTL,
	})
	if err != nil {
		return fmt.Errorf("create payment expiry job: %w", err)
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+env), 0)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cron worker stopped unexpectedly: %w", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}
