package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/meterly-backend/api/routes"
	"github.com/angelmondragon/meterly-backend/internal/billing"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/instance"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/metrics"
	"github.com/angelmondragon/meterly-backend/pkg/migrate"
	"github.com/angelmondragon/meterly-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			engine.Shops,
			engine.Subscriptions,
			engine.Ledger,
			engine.Credits,
			engine.Notifications,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(context.Background(), "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}
