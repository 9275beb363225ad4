package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/config"
	"github.com/platinummonkey/deskbridge/pkg/events"
	"github.com/platinummonkey/deskbridge/pkg/httputil"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/middleware"
	"github.com/platinummonkey/deskbridge/pkg/observability"
	"github.com/platinummonkey/deskbridge/pkg/sso"
	"github.com/platinummonkey/deskbridge/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "deskbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting deskbridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := mappings.EnsureSchema(ctx, db); err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observability.RegisterDBStats(registry, db)

	// Tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Failed to shut down tracing")
			}
		}()
	}

	// Optional redis-backed mapping cache
	var redisClient *redis.Client
	var store mappings.Store = mappings.NewSQLStore(db, metrics)
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		cacheCfg := mappings.DefaultCacheConfig()
		cacheCfg.TTL = cfg.Redis.TTL
		cacheCfg.L1Size = cfg.Redis.L1Size
		store, err = mappings.NewCachedStore(store, redisClient, cacheCfg, metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize mapping cache: %w", err)
		}
		logger.Info("Mapping cache enabled")
	}

	// Support platform client
	platform := chatwoot.NewClient(cfg.Chatwoot.BaseURL, cfg.Chatwoot.PlatformToken,
		chatwoot.WithHTTPClient(&http.Client{Timeout: cfg.Chatwoot.Timeout}),
		chatwoot.WithMetrics(metrics),
	)

	retry := mappings.RetryPolicy{
		MaxRetries: cfg.Identity.LookupMaxRetries,
		Delay:      cfg.Identity.LookupRetryDelay,
	}

	reconciler := events.NewReconciler(store, platform, logger,
		events.WithRetryPolicy(retry),
		events.WithMetrics(metrics),
		events.WithAdminRoleTag(cfg.Identity.AdminRoleTag),
	)

	// Webhook signature verification, with optional file-based rotation
	var secrets webhooks.SecretSource = webhooks.StaticSecret(cfg.Identity.WebhookSecret)
	if cfg.Identity.WebhookSecretFile != "" {
		fileSecret, err := webhooks.NewFileSecret(cfg.Identity.WebhookSecretFile, logger)
		if err != nil {
			return err
		}
		defer fileSecret.Close()
		secrets = fileSecret
	}
	verifier := webhooks.NewVerifier(secrets, cfg.Identity.WebhookTolerance)

	sessionVerifier, err := middleware.NewSessionVerifier(ctx, cfg.Identity.SessionIssuer, cfg.Identity.SessionAudience, logger)
	if err != nil {
		return err
	}

	redirector := sso.NewRedirector(store, platform, logger,
		sso.WithRetryPolicy(retry),
		sso.WithMetrics(metrics),
	)

	// API router
	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(logger))
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(metrics.HTTPMiddleware)
	router.Use(sessionVerifier.Middleware)

	webhooks.NewHandler(verifier, reconciler, logger).RegisterRoutes(router)
	sso.NewHandler(redirector, logger).RegisterRoutes(router)

	var apiHandler http.Handler = router
	if otelProviders != nil {
		apiHandler = otelhttp.NewHandler(router, "deskbridge")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Separate listener for probes and metrics
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Health server shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("Stopped")
	return nil
}
