package storage

import (
	"fmt"
	"time"
)

// Config holds datastore configuration shared by the postgres store, the
// plan cache and the report archiver.
type Config struct {
	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis (plan catalog L2 cache)
	RedisAddr     string
	RedisPassword string
	CacheEnabled  bool
	PlanCacheTTL  time.Duration

	// S3-compatible object storage (run report archive)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns the configuration used when no environment
// overrides are present.
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "postgres://localhost/duetrack?sslmode=disable",
		PostgresMaxConns: 25,
		PostgresMinConns: 5,
		PostgresTimeout:  10 * time.Second,
		RedisAddr:        "",
		CacheEnabled:     false,
		PlanCacheTTL:     15 * time.Minute,
		S3Region:         "us-east-1",
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.PostgresMaxConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive, got %d", c.PostgresMaxConns)
	}
	if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("postgres min connections must be between 0 and %d, got %d", c.PostgresMaxConns, c.PostgresMinConns)
	}
	if c.CacheEnabled && c.RedisAddr == "" {
		return fmt.Errorf("redis address is required when caching is enabled")
	}
	return nil
}
