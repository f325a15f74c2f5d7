// billing-api is the GarageBook billing service. It sells vehicle-tracker
// subscriptions: authenticated users get Stripe checkout sessions, webhook
// deliveries keep subscription state in sync, and a reconcile sweep
// back-fills anything the happy path dropped.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/garagebook/billing-api/pkg/api"
	"github.com/garagebook/billing-api/pkg/checkout"
	"github.com/garagebook/billing-api/pkg/config"
	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/middleware"
	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/plans"
	"github.com/garagebook/billing-api/pkg/profile"
	"github.com/garagebook/billing-api/pkg/reconcile"
	"github.com/garagebook/billing-api/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billing-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting billing-api")

	ctx := context.Background()

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	// Profile store
	var db *sql.DB
	var store profile.Store
	switch cfg.Storage.Type {
	case "postgres":
		db, err = profile.OpenPostgres(ctx, cfg.Storage.PostgresURL, profile.PostgresOptions{
			MaxConns: cfg.Storage.PostgresMaxConns,
			MinConns: cfg.Storage.PostgresMinConns,
			Timeout:  cfg.Storage.PostgresTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		store = profile.NewPostgresStore(db)
	case "sqlite":
		db, err = profile.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		store = profile.NewSQLiteStore(db)
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	logger.WithField("storage", cfg.Storage.Type).Info("Profile store ready")

	// Redis cache
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = profile.NewRedisClient(ctx, cfg.Storage.RedisURL, profile.RedisOptions{
			Password:   cfg.Storage.RedisPassword,
			DB:         cfg.Storage.RedisDB,
			MaxRetries: cfg.Storage.RedisMaxRetries,
			PoolSize:   cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		if cfg.Storage.CacheEnabled {
			store, err = profile.NewCachedStore(store, redisClient, cfg.Storage.L1CacheSize, cfg.Storage.CacheTTL, metrics)
			if err != nil {
				return fmt.Errorf("failed to create cached store: %w", err)
			}
			logger.Info("Customer id cache enabled")
		}
	}

	// Plan catalog
	catalog, err := plans.NewCatalog(cfg.Checkout.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load plan catalog: %w", err)
	}
	if cfg.Checkout.CatalogPath != "" {
		go func() {
			if err := catalog.Watch(); err != nil {
				logger.WithError(err).Error("Plan catalog watcher stopped")
			}
		}()
	}

	// Payments provider
	provider := payments.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	// Token verifier
	var verifier identity.Verifier
	if cfg.Identity.SkipVerification {
		logger.Warn("Token verification disabled, for local development only")
		verifier = identity.NewInsecureVerifier()
	} else {
		verifier, err = identity.NewOIDCVerifier(ctx, cfg.Identity.IssuerURL, cfg.Identity.ClientID)
		if err != nil {
			return fmt.Errorf("failed to create OIDC verifier: %w", err)
		}
	}

	// Webhook payload archive
	var archiver webhooks.Archiver
	if cfg.Archive.Enabled {
		s3Archiver, err := webhooks.NewS3Archiver(ctx, webhooks.S3Options{
			Endpoint:     cfg.Archive.S3Endpoint,
			Region:       cfg.Archive.S3Region,
			Bucket:       cfg.Archive.S3Bucket,
			AccessKey:    cfg.Archive.S3AccessKey,
			SecretKey:    cfg.Archive.S3SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create webhook archive: %w", err)
		}
		archiver = s3Archiver
		logger.WithField("bucket", cfg.Archive.S3Bucket).Info("Webhook payload archiving enabled")
	}

	// Rate limiter
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled && redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, metrics)
	}

	// HTTP surface
	checkoutService := checkout.NewService(store, provider, catalog, checkout.URLDefaults{
		SuccessURL: cfg.Checkout.SuccessURL,
		CancelURL:  cfg.Checkout.CancelURL,
	}, metrics)

	server := api.NewServer(api.Options{
		Checkout:     checkout.NewHandler(checkoutService, catalog),
		Webhooks:     webhooks.NewHandler(provider, store, catalog, archiver, metrics),
		Verifier:     verifier,
		RateLimiter:  rateLimiter,
		Logger:       logger,
		Metrics:      metrics,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	httpServer := server.HTTPServer(cfg.Server.Host, cfg.Server.Port,
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)

	// Health and metrics on a separate port for probes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	if metrics != nil {
		go metrics.CollectDBStats(statsCtx, db, 15*time.Second)
	}

	// Reconcile sweep
	var sweeper *reconcile.Sweeper
	if cfg.Reconcile.Enabled {
		sweeper = reconcile.NewSweeper(provider, store, logger, cfg.Reconcile.Lookback)
		if err := sweeper.Start(cfg.Reconcile.Schedule); err != nil {
			return fmt.Errorf("failed to start reconcile sweep: %w", err)
		}
		logger.WithField("schedule", cfg.Reconcile.Schedule).Info("Reconcile sweep scheduled")
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})
	if sweeper != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return catalog.Close()
	})
	// CachedStore owns the redis client and closes it with the store.
	if redisClient != nil && !cfg.Storage.CacheEnabled {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	return g.Wait()
}
