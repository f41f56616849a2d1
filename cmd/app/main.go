package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-pipeline/internal/application"
	"media-pipeline/internal/config"
	"media-pipeline/internal/infra/api"
	"media-pipeline/internal/infra/api/apiv1"
	"media-pipeline/internal/infra/api/webhooks"
	pg "media-pipeline/internal/infra/db/postgres"
	"media-pipeline/internal/infra/logging"
	"media-pipeline/internal/infra/metrics"
	red "media-pipeline/internal/infra/redis"
	"media-pipeline/internal/infra/sched"
	"media-pipeline/internal/infra/worker"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, local stand-ins for missing providers")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Queue.Backend)

	// ---- Wiring ----
	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer c.Close()
	if c.Pool != nil {
		go pg.ReportPoolStats(ctx, c.Pool, 15*time.Second, logger)
	}

	// ---- Workers ----
	pool := worker.NewPool(cfg.Queue.Concurrency, logger)
	dispatcher := worker.NewDispatcher(c.Queue, c.Stages, c.Aggregator, c.Outputs, worker.DispatcherOptions{
		PollWait:     cfg.Queue.PollWait,
		JobTimeout:   cfg.Queue.JobTimeout,
		StallTimeout: cfg.Queue.StallTimeout,
	}, logger)
	dispatcher.Start(ctx, pool)

	// ---- Timeout monitor ----
	monitor := sched.NewTimeoutMonitor(cfg.Monitor.Interval, c.Reclaimer, c.Locker(), logger)
	go func() { _ = monitor.Run(ctx) }()

	// ---- HTTP ----
	var tokens *api.TokenManager
	if cfg.Auth.JWTSecret != "" {
		tokens, err = api.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("auth")
		}
	} else {
		logger.Warn().Msg("auth.jwt_secret not set; /api/v1 is unauthenticated")
	}

	var (
		limiter api.Limiter
		dedupe  webhooks.Deduper
	)
	checks := map[string]api.HealthCheck{}
	if c.Redis != nil {
		limiter = red.NewRateLimiter(c.Redis)
		dedupe = red.NewDedupe(c.Redis, time.Hour)
		checks["redis"] = c.Redis.Ping
	}
	if c.Pool != nil {
		checks["postgres"] = c.Pool.Ping
	}

	router := api.NewRouter(api.RouterDeps{
		API: apiv1.NewServer(c.Pipeline, logger),
		Webhooks: webhooks.NewHandler(c.Completions, c.Queue, dedupe, webhooks.Secrets{
			HeyGen:   cfg.Avatar.WebhookSecret,
			Submagic: cfg.Captions.WebhookSecret,
		}, logger),
		Tokens:         tokens,
		Limiter:        limiter,
		RateLimit:      cfg.HTTP.RateLimit,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MediaDir:       c.Storage.Dir(),
		Checks:         checks,
	}, logger)
	server := api.NewServer(cfg.HTTP, router, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	pool.Wait()
	logger.Info().Msg("bye")
}
