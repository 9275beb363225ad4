package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration (mapping store)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional mapping cache)
	Redis RedisConfig `yaml:"redis"`

	// Chatwoot platform API configuration
	Chatwoot ChatwootConfig `yaml:"chatwoot"`

	// Identity provider configuration (webhooks + sessions)
	Identity IdentityConfig `yaml:"identity"`

	// Sweep configuration (drift audit)
	Sweep SweepConfig `yaml:"sweep"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds mapping store connection configuration
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// RedisConfig holds the optional mapping cache configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	L1Size   int           `yaml:"l1_size"`
}

// ChatwootConfig holds support platform API configuration
type ChatwootConfig struct {
	BaseURL       string        `yaml:"base_url"`
	PlatformToken string        `yaml:"platform_token"`
	Timeout       time.Duration `yaml:"timeout"`
}

// IdentityConfig holds identity provider configuration
type IdentityConfig struct {
	// WebhookSecret is the shared secret for webhook signature verification.
	// WebhookSecretFile, when set, takes precedence and is watched for rotation.
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretFile string `yaml:"webhook_secret_file"`

	// SessionIssuer is the OIDC issuer URL used to verify session tokens
	SessionIssuer string `yaml:"session_issuer"`

	// SessionAudience restricts accepted session tokens, empty disables the check
	SessionAudience string `yaml:"session_audience"`

	// AdminRoleTag is the upstream role value mapped to administrator
	AdminRoleTag string `yaml:"admin_role_tag"`

	// Webhook timestamp tolerance for replay protection
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`

	// Bounded-retry lookup policy for out-of-order webhook delivery
	LookupMaxRetries int           `yaml:"lookup_max_retries"`
	LookupRetryDelay time.Duration `yaml:"lookup_retry_delay"`
}

// SweepConfig holds drift audit configuration
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
	Repair   bool   `yaml:"repair"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables, with an optional
// YAML overlay file named by DESKBRIDGE_CONFIG applied first
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Chatwoot:      loadChatwootConfig(),
		Identity:      loadIdentityConfig(),
		Sweep:         loadSweepConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := os.Getenv("DESKBRIDGE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyFile overlays values from a YAML config file onto the env-derived config
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DESKBRIDGE_HOST", "0.0.0.0"),
		Port:            getEnv("DESKBRIDGE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DESKBRIDGE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DESKBRIDGE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("DESKBRIDGE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DESKBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DESKBRIDGE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("DESKBRIDGE_DATABASE_URL", ""),
		MaxConns:    getEnvInt("DESKBRIDGE_DATABASE_MAX_CONNS", 10),
		MinConns:    getEnvInt("DESKBRIDGE_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DESKBRIDGE_DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("DESKBRIDGE_DATABASE_MAX_LIFETIME", time.Hour),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("DESKBRIDGE_REDIS_ENABLED", false),
		URL:      getEnv("DESKBRIDGE_REDIS_URL", "redis://localhost:6379/0"),
		Password: getEnv("DESKBRIDGE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("DESKBRIDGE_REDIS_DB", 0),
		TTL:      getEnvDuration("DESKBRIDGE_REDIS_TTL", 5*time.Minute),
		L1Size:   getEnvInt("DESKBRIDGE_CACHE_L1_SIZE", 1024),
	}
}

func loadChatwootConfig() ChatwootConfig {
	return ChatwootConfig{
		BaseURL:       getEnv("CHATWOOT_URL", ""),
		PlatformToken: getEnv("CHATWOOT_PLATFORM_API_KEY", ""),
		Timeout:       getEnvDuration("CHATWOOT_TIMEOUT", 30*time.Second),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		WebhookSecret:     getEnv("CLERK_WEBHOOK_SECRET", ""),
		WebhookSecretFile: getEnv("CLERK_WEBHOOK_SECRET_FILE", ""),
		SessionIssuer:     getEnv("CLERK_SESSION_ISSUER", ""),
		SessionAudience:   getEnv("CLERK_SESSION_AUDIENCE", ""),
		AdminRoleTag:      getEnv("CLERK_ADMIN_ROLE_TAG", "org:admin"),
		WebhookTolerance:  getEnvDuration("DESKBRIDGE_WEBHOOK_TOLERANCE", 5*time.Minute),
		LookupMaxRetries:  getEnvInt("DESKBRIDGE_LOOKUP_MAX_RETRIES", 20),
		LookupRetryDelay:  getEnvDuration("DESKBRIDGE_LOOKUP_RETRY_DELAY", time.Second),
	}
}

func loadSweepConfig() SweepConfig {
	return SweepConfig{
		Schedule: getEnv("DESKBRIDGE_SWEEP_SCHEDULE", "0 * * * *"),
		Repair:   getEnvBool("DESKBRIDGE_SWEEP_REPAIR", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevelName:       getEnv("DESKBRIDGE_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("DESKBRIDGE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DESKBRIDGE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DESKBRIDGE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DESKBRIDGE_OTEL_SERVICE_NAME", "deskbridge"),
		OTelServiceVersion: getEnv("DESKBRIDGE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DESKBRIDGE_OTEL_INSECURE", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Chatwoot.BaseURL == "" {
		return fmt.Errorf("chatwoot base URL is required")
	}
	if c.Chatwoot.PlatformToken == "" {
		return fmt.Errorf("chatwoot platform token is required")
	}

	if c.Identity.WebhookSecret == "" && c.Identity.WebhookSecretFile == "" {
		return fmt.Errorf("webhook secret (or secret file) is required")
	}
	if c.Identity.SessionIssuer == "" {
		return fmt.Errorf("session issuer is required")
	}
	if c.Identity.LookupMaxRetries < 0 {
		return fmt.Errorf("lookup max retries must not be negative")
	}
	if c.Identity.LookupRetryDelay <= 0 {
		return fmt.Errorf("lookup retry delay must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
