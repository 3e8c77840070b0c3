package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/meterly-backend/internal/billing"
	"github.com/angelmondragon/meterly-backend/internal/cron"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/instance"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/metrics"
	"github.com/angelmondragon/meterly-backend/pkg/migrate"
	"github.com/angelmondragon/meterly-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
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

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	dbClient.SetRetryObserver(ledgerMetrics)

	var sender email.Sender = email.NewLogSender(logg)
	if cfg.Email.Enabled() {
		sender, err = email.NewPostmarkSender(cfg.Email)
		if err != nil {
			logg.Error(context.Background(), "failed to create postmark sender", err)
			os.Exit(1)
		}
	}

	engine, err := billing.NewEngine(billing.EngineParams{
		DB:      dbClient,
		Config:  cfg.Billing,
		Cache:   redisClient,
		Sender:  sender,
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire billing engine", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	sweepJob, err := cron.NewSubscriptionSweepJob(cron.SubscriptionSweepJobParams{
		Logger:  logg,
		Sweeper: engine.Subscriptions,
		Limit:   cfg.Cron.SweepLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription sweep job", err)
		os.Exit(1)
	}

	cleanupJob, err := cron.NewNotificationCleanupJob(logg, engine.Notifications, cfg.Billing.NotificationRetention)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification cleanup job", err)
		os.Exit(1)
	}
	if err := registry.Register(sweepJob, cleanupJob); err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "cron-worker",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		report, err := service.RunOnce(ctx)
		if err == nil {
			err = report.Err()
		}
		if err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Cron.MetricsAddr != "" {
		defer serveMetrics(ctx, cfg.Cron.MetricsAddr, logg)()
	}
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// serveMetrics exposes the default registry on addr until the returned stop
// func is called.
func serveMetrics(ctx context.Context, addr string, logg *logger.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	logg.Info(logg.WithField(ctx, "addr", addr), "serving cron metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
