package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/duetrack/duetrack/pkg/observability"
	"github.com/duetrack/duetrack/pkg/storage"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Billing       BillingConfig
	Events        EventsConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// BillingConfig tunes the billing engine.
type BillingConfig struct {
	// Workers is the claim concurrency during a run.
	Workers int
	// PageSize is the keyset pagination batch size.
	PageSize int
	// PlanFile, when set, loads the plan catalog from a YAML file instead
	// of the database.
	PlanFile string
	// WatchPlanFile reloads PlanFile on change.
	WatchPlanFile bool
}

// EventsConfig tunes outbound event delivery.
type EventsConfig struct {
	Enabled           bool
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RateLimitPerMin   int
}

// AuditConfig selects audit log destinations.
type AuditConfig struct {
	// DBEnabled writes audit events to the audit_events table.
	DBEnabled bool
	// FilePath, when set, appends JSON-lines audit events to this file.
	FilePath string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Events:        loadEventsConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DUETRACK_HOST", "0.0.0.0"),
		Port:            getEnv("DUETRACK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DUETRACK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DUETRACK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DUETRACK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DUETRACK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DUETRACK_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("DUETRACK_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("DUETRACK_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("DUETRACK_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("DUETRACK_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisAddr := getEnv("DUETRACK_REDIS_ADDR", ""); redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if redisPassword := getEnv("DUETRACK_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	cfg.CacheEnabled = getEnvBool("DUETRACK_CACHE_ENABLED", cfg.RedisAddr != "")
	if ttl := getEnvDuration("DUETRACK_PLAN_CACHE_TTL", 0); ttl > 0 {
		cfg.PlanCacheTTL = ttl
	}

	if s3Endpoint := getEnv("DUETRACK_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("DUETRACK_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("DUETRACK_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("DUETRACK_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("DUETRACK_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("DUETRACK_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		Workers:       getEnvInt("DUETRACK_BILLING_WORKERS", 8),
		PageSize:      getEnvInt("DUETRACK_BILLING_PAGE_SIZE", 200),
		PlanFile:      getEnv("DUETRACK_PLAN_FILE", ""),
		WatchPlanFile: getEnvBool("DUETRACK_PLAN_FILE_WATCH", true),
	}
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		Enabled:           getEnvBool("DUETRACK_EVENTS_ENABLED", true),
		RetryMaxAttempts:  getEnvInt("DUETRACK_EVENTS_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: getEnvDuration("DUETRACK_EVENTS_RETRY_INITIAL_DELAY", time.Second),
		RateLimitPerMin:   getEnvInt("DUETRACK_EVENTS_RATE_LIMIT_PER_MIN", 100),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		DBEnabled: getEnvBool("DUETRACK_AUDIT_DB_ENABLED", true),
		FilePath:  getEnv("DUETRACK_AUDIT_FILE", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("DUETRACK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DUETRACK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DUETRACK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DUETRACK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DUETRACK_OTEL_SERVICE_NAME", "duetrack"),
		OTelServiceVersion: getEnv("DUETRACK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DUETRACK_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid.
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

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Billing.Workers <= 0 {
		return fmt.Errorf("billing workers must be positive, got %d", c.Billing.Workers)
	}
	if c.Billing.PageSize <= 0 {
		return fmt.Errorf("billing page size must be positive, got %d", c.Billing.PageSize)
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
