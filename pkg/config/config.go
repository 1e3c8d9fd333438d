// Package config loads application configuration from GRADEKEEP_* environment
// variables with sane defaults, and validates the result before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gradekeep/gradekeep/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Policy        PolicyConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds policy store database configuration
type DatabaseConfig struct {
	URL          string
	Driver       string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	// Backend selects the decision cache implementation: store, redis, memory
	Backend string
	TTL     time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int

	// MemorySize caps the number of principals held by the memory backend
	MemorySize int
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// WriteTimeout bounds a single fire-and-forget audit append
	WriteTimeout time.Duration
	// Retention is how long audit records are kept before the sweeper prunes them
	Retention time.Duration
}

// PolicyConfig holds policy seed configuration
type PolicyConfig struct {
	// SeedPath points at the YAML file declaring system roles and permissions;
	// empty disables seeding
	SeedPath string
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
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Policy:        loadPolicyConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GRADEKEEP_HOST", "0.0.0.0"),
		Port:            getEnv("GRADEKEEP_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GRADEKEEP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GRADEKEEP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GRADEKEEP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GRADEKEEP_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GRADEKEEP_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("GRADEKEEP_DATABASE_URL", ""),
		Driver:       getEnv("GRADEKEEP_DATABASE_DRIVER", "postgres"),
		MaxOpenConns: getEnvInt("GRADEKEEP_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("GRADEKEEP_DATABASE_MAX_IDLE_CONNS", 5),
		ConnTimeout:  getEnvDuration("GRADEKEEP_DATABASE_CONN_TIMEOUT", 5*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       getEnv("GRADEKEEP_CACHE_BACKEND", "store"),
		TTL:           getEnvDuration("GRADEKEEP_CACHE_TTL", time.Hour),
		RedisURL:      getEnv("GRADEKEEP_REDIS_URL", ""),
		RedisPassword: getEnv("GRADEKEEP_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("GRADEKEEP_REDIS_DB", 0),
		MemorySize:    getEnvInt("GRADEKEEP_CACHE_MEMORY_SIZE", 4096),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		WriteTimeout: getEnvDuration("GRADEKEEP_AUDIT_WRITE_TIMEOUT", 5*time.Second),
		Retention:    getEnvDuration("GRADEKEEP_AUDIT_RETENTION", 90*24*time.Hour),
	}
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SeedPath: getEnv("GRADEKEEP_POLICY_SEED", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GRADEKEEP_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GRADEKEEP_METRICS_ENABLED", true),
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
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}

	switch c.Cache.Backend {
	case "store", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be store, redis, or memory)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
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
