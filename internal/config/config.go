// Package config provides configuration management for the bucket tracker.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/bucket-tracker/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Broker    BrokerConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// StorageConfig selects and configures the persistence gateway
type StorageConfig struct {
	Backend types.StorageBackend
	DataDir string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tool
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration. An empty Host disables Redis.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Enabled reports whether a Redis host is configured
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	QuoteTTL time.Duration
}

// BrokerConfig holds broker gateway configuration. Credentials set here come
// from the environment and take precedence over the stored config document.
type BrokerConfig struct {
	Mode       types.BrokerMode
	BaseURL    string
	APIKey     string
	APISecret  string
	TOTPSecret string
	RPS        int
	Timeout    time.Duration
}

// SyncConfig holds sync behavior configuration
type SyncConfig struct {
	AllowEmpty bool // Accept an empty broker result and clear stored holdings
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "5000"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Storage: StorageConfig{
			Backend: types.StorageBackend(getEnv("STORAGE_BACKEND", string(types.BackendFile))),
			DataDir: getEnv("DATA_DIR", "data"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "bucket_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Cache: CacheConfig{
			QuoteTTL: getEnvAsDuration("QUOTE_CACHE_TTL", 60*time.Second),
		},
		Broker: BrokerConfig{
			Mode:       types.BrokerMode(getEnv("BROKER_MODE", string(types.BrokerGroww))),
			BaseURL:    getEnv("GROWW_BASE_URL", "https://api.groww.in"),
			APIKey:     getEnv("GROWW_API_KEY", ""),
			APISecret:  getEnv("GROWW_API_SECRET", ""),
			TOTPSecret: getEnv("GROWW_TOTP_SECRET", ""),
			RPS:        getEnvAsInt("GROWW_RPS", 5),
			Timeout:    getEnvAsDuration("GROWW_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			AllowEmpty: getEnvAsBool("SYNC_ALLOW_EMPTY", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case types.BackendFile, types.BackendPostgres:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q (must be 'file' or 'postgres')", c.Storage.Backend)
	}

	switch c.Broker.Mode {
	case types.BrokerGroww, types.BrokerFixture:
	default:
		return fmt.Errorf("invalid BROKER_MODE %q (must be 'groww' or 'fixture')", c.Broker.Mode)
	}

	if c.Broker.RPS <= 0 {
		return fmt.Errorf("GROWW_RPS must be positive, got %d", c.Broker.RPS)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
