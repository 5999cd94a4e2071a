package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Environment string
	Store       string
	DatabaseURL string
	TablePrefix string
	// Logging
	LogDir      string
	LogMaxFiles int
	// Observability
	MetricsAddr string
	// Core behaviour
	PermissionCacheTTL   time.Duration
	DefaultCheckoutHours int
	ShareRateLimitRPS    int
	ShareRateLimitBurst  int
	BcryptCost           int
	SweepInterval        time.Duration
}

func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")

	cfg := &Config{
		Environment:          env,
		Store:                getEnv("STORE", StorePostgres),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		TablePrefix:          getTablePrefix(env),
		LogDir:               getEnv("LOG_DIR", ""),
		LogMaxFiles:          getEnvInt("LOG_MAX_FILES", 10),
		MetricsAddr:          getEnv("METRICS_ADDR", ":9090"),
		PermissionCacheTTL:   getEnvDuration("PERMISSION_CACHE_TTL", 30*time.Second),
		DefaultCheckoutHours: getEnvInt("CHECKOUT_DEFAULT_HOURS", DefaultCheckoutHours),
		ShareRateLimitRPS:    getEnvInt("SHARE_RATE_LIMIT_RPS", 0),
		ShareRateLimitBurst:  getEnvInt("SHARE_RATE_LIMIT_BURST", 0),
		BcryptCost:           getEnvInt("BCRYPT_COST", DefaultBcryptCost),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. ozzo's Min skips zero values,
// so fields that must be positive also carry Required.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Store, validation.Required, validation.In(StorePostgres, StoreMemory)),
		validation.Field(&c.DatabaseURL, validation.When(c.Store == StorePostgres, validation.Required)),
		validation.Field(&c.LogMaxFiles, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultCheckoutHours, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(MinBcryptCost), validation.Max(MaxBcryptCost)),
		validation.Field(&c.PermissionCacheTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ShareRateLimitRPS, validation.Min(0)),
		validation.Field(&c.ShareRateLimitBurst, validation.Min(0)),
	)
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix, ok := os.LookupEnv("TABLE_PREFIX"); ok {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
