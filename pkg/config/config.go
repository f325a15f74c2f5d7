package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/garagebook/billing-api/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Identity provider configuration
	Identity IdentityConfig

	// Stripe configuration
	Stripe StripeConfig

	// Checkout configuration
	Checkout CheckoutConfig

	// Webhook archive configuration
	Archive ArchiveConfig

	// Rate limit configuration
	RateLimit RateLimitConfig

	// Reconcile sweep configuration
	Reconcile ReconcileConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds profile store and cache configuration
type StorageConfig struct {
	// Type selects the profile store backend: "postgres" or "sqlite"
	Type string

	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// SQLite (local development)
	SQLitePath string

	// Redis
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int
}

// IdentityConfig holds OIDC token verification settings
type IdentityConfig struct {
	IssuerURL string
	ClientID  string

	// SkipVerification replaces the OIDC verifier with an unverified
	// claims parser. Local development only.
	SkipVerification bool
}

// StripeConfig holds Stripe API settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// CheckoutConfig holds checkout session defaults
type CheckoutConfig struct {
	SuccessURL  string
	CancelURL   string
	CatalogPath string
}

// ArchiveConfig holds S3 webhook payload archive settings
type ArchiveConfig struct {
	Enabled      bool
	S3Endpoint   string
	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	UsePathStyle bool
}

// RateLimitConfig holds checkout rate limiting settings
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// ReconcileConfig holds the orphaned-customer sweep settings
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	// Lookback bounds how far back the sweep lists provider customers.
	Lookback time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Identity:      loadIdentityConfig(),
		Stripe:        loadStripeConfig(),
		Checkout:      loadCheckoutConfig(),
		Archive:       loadArchiveConfig(),
		RateLimit:     loadRateLimitConfig(),
		Reconcile:     loadReconcileConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GARAGEBOOK_HOST", "0.0.0.0"),
		Port:            getEnv("GARAGEBOOK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GARAGEBOOK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GARAGEBOOK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GARAGEBOOK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GARAGEBOOK_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GARAGEBOOK_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("GARAGEBOOK_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             getEnv("GARAGEBOOK_STORAGE_TYPE", "postgres"),
		PostgresURL:      getEnv("GARAGEBOOK_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("GARAGEBOOK_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("GARAGEBOOK_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("GARAGEBOOK_POSTGRES_TIMEOUT", 30*time.Second),
		SQLitePath:       getEnv("GARAGEBOOK_SQLITE_PATH", "garagebook-billing.db"),
		RedisURL:         getEnv("GARAGEBOOK_REDIS_URL", ""),
		RedisPassword:    getEnv("GARAGEBOOK_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("GARAGEBOOK_REDIS_DB", 0),
		RedisMaxRetries:  getEnvInt("GARAGEBOOK_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:    getEnvInt("GARAGEBOOK_REDIS_POOL_SIZE", 10),
		CacheEnabled:     getEnvBool("GARAGEBOOK_CACHE_ENABLED", true),
		CacheTTL:         getEnvDuration("GARAGEBOOK_CACHE_TTL", time.Hour),
		L1CacheSize:      getEnvInt("GARAGEBOOK_L1_CACHE_SIZE", 4096),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL:        getEnv("GARAGEBOOK_OIDC_ISSUER", ""),
		ClientID:         getEnv("GARAGEBOOK_OIDC_CLIENT_ID", ""),
		SkipVerification: getEnvBool("GARAGEBOOK_OIDC_SKIP_VERIFICATION", false),
	}
}

func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:     getEnv("GARAGEBOOK_STRIPE_SECRET_KEY", ""),
		WebhookSecret: getEnv("GARAGEBOOK_STRIPE_WEBHOOK_SECRET", ""),
	}
}

func loadCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		SuccessURL:  getEnv("GARAGEBOOK_CHECKOUT_SUCCESS_URL", "https://app.garagebook.io/billing/success"),
		CancelURL:   getEnv("GARAGEBOOK_CHECKOUT_CANCEL_URL", "https://app.garagebook.io/billing/cancel"),
		CatalogPath: getEnv("GARAGEBOOK_PLAN_CATALOG_PATH", ""),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:      getEnvBool("GARAGEBOOK_ARCHIVE_ENABLED", false),
		S3Endpoint:   getEnv("GARAGEBOOK_S3_ENDPOINT", ""),
		S3Region:     getEnv("GARAGEBOOK_S3_REGION", "us-east-1"),
		S3Bucket:     getEnv("GARAGEBOOK_S3_BUCKET", ""),
		S3AccessKey:  getEnv("GARAGEBOOK_S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("GARAGEBOOK_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("GARAGEBOOK_S3_USE_PATH_STYLE", false),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:  getEnvBool("GARAGEBOOK_RATELIMIT_ENABLED", true),
		Requests: getEnvInt("GARAGEBOOK_RATELIMIT_REQUESTS", 10),
		Window:   getEnvDuration("GARAGEBOOK_RATELIMIT_WINDOW", time.Minute),
	}
}

func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Enabled:  getEnvBool("GARAGEBOOK_RECONCILE_ENABLED", true),
		Schedule: getEnv("GARAGEBOOK_RECONCILE_SCHEDULE", "@hourly"),
		Lookback: getEnvDuration("GARAGEBOOK_RECONCILE_LOOKBACK", 24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLevel(getEnv("GARAGEBOOK_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GARAGEBOOK_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or sqlite)", c.Storage.Type)
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}

	if !c.Identity.SkipVerification {
		if c.Identity.IssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required")
		}
		if c.Identity.ClientID == "" {
			return fmt.Errorf("OIDC client ID is required")
		}
	}

	if c.Archive.Enabled && c.Archive.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when webhook archiving is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate limit requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
