package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing-event-pipeline/config"
	httpHandler "billing-event-pipeline/internal/adapter/http/handler"
	pgStorage "billing-event-pipeline/internal/adapter/storage/postgres"
	redisStorage "billing-event-pipeline/internal/adapter/storage/redis"
	"billing-event-pipeline/internal/adapter/stripe"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/internal/service"
	"billing-event-pipeline/pkg/clock"
	"billing-event-pipeline/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Billing Event Pipeline")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	eventRepo := pgStorage.NewWebhookEventRepo(pool)
	reportRepo := pgStorage.NewUsageReportRepo(pool)
	subscriptionRepo := pgStorage.NewSubscriptionRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	seenCache := redisStorage.NewSeenEventCache(rdb)
	schedulerLock := redisStorage.NewSchedulerLock(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	sysClock := clock.System{}

	// Outbound Stripe client
	stripeClient := stripe.NewClient(&http.Client{Timeout: cfg.Stripe.Timeout}, cfg.Stripe, log)

	// Event handler registry
	registry := service.NewRegistry()
	subscriptionHandler := service.NewSubscriptionUpdatedHandler(subscriptionRepo, sysClock)
	registry.Register(service.EventTypeSubscriptionUpdated, subscriptionHandler)
	registry.Register(service.EventTypeSubscriptionDeleted, subscriptionHandler)
	registry.Register(service.EventTypePaymentFailed, service.NewPaymentFailedHandler(subscriptionRepo, sysClock))
	log.Info().Strs("event_types", registry.Types()).Msg("webhook handlers registered")

	// Business services
	ingestSvc := service.NewIngestionService(
		eventRepo, seenCache, registry, transactor, sysClock,
		cfg.Scheduler.WebhookMaxAttempts, log,
	)
	usageSvc := service.NewUsageService(reportRepo, stripeClient, sysClock, log)

	// Reconciliation scheduler
	reconciler := service.NewReconciler(
		ingestSvc, usageSvc, eventRepo, reportRepo,
		schedulerLock, sysClock, cfg.Scheduler, log,
	)
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	reconciler.Start(schedulerCtx)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:           ingestSvc,
		UsageSvc:            usageSvc,
		SigningSecret:       cfg.Webhook.SigningSecret,
		OpsToken:            cfg.Ops.Token,
		UnresolvedThreshold: cfg.Ops.UnresolvedThreshold,
		RateLimitStore:      rateLimitStore,
		HealthCheckers:      []ports.HealthChecker{pgHealth, redisHealth},
		Logger:              log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Stop the scheduler first so no new retry work starts mid-shutdown.
	stopScheduler()
	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
