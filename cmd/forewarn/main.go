// Package main is the entry point for the Forewarn service.
//
// It loads configuration, connects to PostgreSQL, wires the prediction
// pipeline (weather source, classifier chain, policy engine, scheduler),
// and exposes an ops HTTP surface with health and metrics endpoints.
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forewarn/internal/config"
	"forewarn/internal/delivery"
	"forewarn/internal/llm"
	"forewarn/internal/logging"
	"forewarn/internal/notifications"
	"forewarn/internal/observability"
	"forewarn/internal/risk"
	"forewarn/internal/scheduler"
	"forewarn/internal/store"
	"forewarn/internal/types"
	"forewarn/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("forewarn starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"llm_enabled", cfg.LLM.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	clock := types.RealClock{}
	metrics := observability.NewMetrics()

	verdicts := store.NewVerdictRepository(pool)
	deliveries := store.NewDeliveryRepository(pool)
	subscribers := store.NewSubscriberRepository(pool)

	var remote risk.Classifier
	if cfg.LLM.Enabled {
		client := llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger.With("component", "llm"))
		remote = llm.NewRemoteClassifier(client, cfg.LLM.Detailed, clock, logger)
	} else {
		logger.Warn("remote classifier disabled, running deterministic only")
	}
	predictor := risk.NewPredictor(remote, clock, logger)

	windows := weather.NewClient(cfg.Weather.BaseURL, clock, logger.With("component", "weather"))

	renderer, err := delivery.NewRenderer()
	if err != nil {
		return fmt.Errorf("parsing email templates: %w", err)
	}
	mailer := delivery.NewMailClient(delivery.MailConfig{
		BaseURL:  cfg.Email.BaseURL,
		APIKey:   cfg.Email.APIKey,
		FromAddr: cfg.Email.FromAddress,
		FromName: cfg.Email.FromName,
	}, logger.With("component", "mail"))
	sender := delivery.NewEmailSender(renderer, mailer, logger)

	engine := notifications.NewEngine(verdicts, deliveries, sender, clock, logger)

	runner := scheduler.NewRunner(
		scheduler.Config{
			PredictionInterval: cfg.Scheduler.PredictionInterval,
			DigestInterval:     cfg.Scheduler.DigestInterval,
			CleanupInterval:    cfg.Scheduler.CleanupInterval,
			RetentionDays:      cfg.Scheduler.RetentionDays,
			LeadStartHours:     cfg.Scheduler.LeadStartHours,
			LeadEndHours:       cfg.Scheduler.LeadEndHours,
			ComparisonHours:    cfg.Scheduler.ComparisonHours,
			OutlookHours:       cfg.Scheduler.OutlookHours,
			Concurrency:        cfg.Scheduler.Concurrency,
		},
		subscribers, windows, predictor, verdicts, engine,
		verdicts, deliveries,
		metrics, clock, logger.With("component", "scheduler"),
	)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler exited", "error", err)
		}
	}()

	return runHTTPServer(ctx, cfg, pool, logger, schedulerDone)
}

// newPool creates the pgx connection pool with the configured tuning.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer serves the ops endpoints until the context is canceled, then
// shuts down gracefully and waits for the scheduler to stop.
func runHTTPServer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger types.Logger, schedulerDone <-chan struct{}) error {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("ops server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown deadline")
	}

	logger.Info("forewarn stopped cleanly")
	return nil
}
