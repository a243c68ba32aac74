// Package config manages application configuration
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEncryptionKey seals local state when ESHOTRY_ENCRYPTION_KEY is unset.
// It is refused in production.
const DefaultEncryptionKey = "dev-encryption-key-change-in-production"

// Config holds all application configuration
type Config struct {
	// Commerce API
	APIURL         string
	RequestTimeout time.Duration
	RetryMax       int

	Environment string // "development" or "production"

	// Local persistence
	StateDB       string
	EncryptionKey string // Seals the persisted session

	// Session settings
	TokenRefreshSkew time.Duration

	// Catalog
	CatalogCacheTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIURL:           getEnv("ESHOTRY_API_URL", "http://localhost:8000/api"),
		RequestTimeout:   getDurationEnv("ESHOTRY_REQUEST_TIMEOUT", 10*time.Second),
		RetryMax:         getIntEnv("ESHOTRY_RETRY_MAX", 2),
		Environment:      getEnv("ESHOTRY_ENV", "development"),
		StateDB:          getEnv("ESHOTRY_STATE_DB", "eshotry-state.db"),
		EncryptionKey:    getEnv("ESHOTRY_ENCRYPTION_KEY", DefaultEncryptionKey),
		TokenRefreshSkew: getDurationEnv("ESHOTRY_TOKEN_REFRESH_SKEW", 30*time.Second),
		CatalogCacheTTL:  getDurationEnv("ESHOTRY_CATALOG_CACHE_TTL", 5*time.Minute),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
