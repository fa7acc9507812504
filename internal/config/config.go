// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Model backend
	ModelServerURL string
	ModelTimeout   time.Duration
	UseModel       bool // false forces every evaluation onto the rule engine

	// Evaluation defaults
	ConfidenceThreshold float64
	TimeWindowDays      int
	GraphDepth          int

	// Batch settings
	BatchConcurrency int
	PerTargetTimeout time.Duration

	// Cache
	VerdictCacheSize int

	// Alerting
	AlertWebhookURL string
	WebhookSecret   string

	// Tracing
	OTLPEndpoint string

	// CORS; empty means allow all origins
	AllowedOrigins []string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultModelServerURL   = "http://localhost:5001"
	DefaultModelTimeout     = 60 * time.Second
	DefaultBatchConcurrency = 10
	DefaultPerTargetTimeout = 30 * time.Second
	DefaultCacheSize        = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelServerURL:      getEnv("MODEL_SERVER_URL", DefaultModelServerURL),
		ModelTimeout:        getEnvDuration("MODEL_TIMEOUT", DefaultModelTimeout),
		UseModel:            getEnvBool("USE_MODEL", true),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.7),
		TimeWindowDays:      int(getEnvInt64("TIME_WINDOW_DAYS", 30)),
		GraphDepth:          int(getEnvInt64("GRAPH_DEPTH", 3)),
		BatchConcurrency:    int(getEnvInt64("BATCH_CONCURRENCY", DefaultBatchConcurrency)),
		PerTargetTimeout:    getEnvDuration("PER_TARGET_TIMEOUT", DefaultPerTargetTimeout),
		VerdictCacheSize:    int(getEnvInt64("VERDICT_CACHE_SIZE", DefaultCacheSize)),
		AlertWebhookURL:     os.Getenv("ALERT_WEBHOOK_URL"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.ModelServerURL == "" && c.UseModel {
		return fmt.Errorf("MODEL_SERVER_URL is required when USE_MODEL is enabled")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0, 1]")
	}
	if c.TimeWindowDays <= 0 {
		return fmt.Errorf("TIME_WINDOW_DAYS must be positive")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if c.PerTargetTimeout <= 0 {
		return fmt.Errorf("PER_TARGET_TIMEOUT must be positive")
	}
	if c.VerdictCacheSize <= 0 {
		return fmt.Errorf("VERDICT_CACHE_SIZE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
