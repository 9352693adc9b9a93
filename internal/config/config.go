// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, audit disabled if not set)

	// External classifier
	ClassifierURL     string // Optional, scoring degrades to pattern+linguistic without it
	ClassifierTimeout int    // Request timeout in seconds

	// Alerting
	AlertThreshold  float64 // Minimum risk score that can raise an escalation alert
	EscalationDelta float64 // Minimum score rise that counts as escalation
	MinContextLen   int     // Transcript length floor for full-context re-scoring

	// Security
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // Optional OTLP trace collector (host:port)
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultClassifierTimeout = 5
	DefaultAlertThreshold    = 0.3
	DefaultEscalationDelta   = 0.2
	DefaultMinContextLen     = 50
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional
		ClassifierURL:     os.Getenv("CLASSIFIER_URL"),
		ClassifierTimeout: int(getEnvInt64("CLASSIFIER_TIMEOUT", DefaultClassifierTimeout)),
		AlertThreshold:    getEnvFloat("ALERT_THRESHOLD", DefaultAlertThreshold),
		EscalationDelta:   getEnvFloat("ESCALATION_DELTA", DefaultEscalationDelta),
		MinContextLen:     int(getEnvInt64("MIN_CONTEXT_LEN", DefaultMinContextLen)),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be in [0,1], got %v", c.AlertThreshold)
	}
	if c.EscalationDelta < 0 || c.EscalationDelta > 1 {
		return fmt.Errorf("ESCALATION_DELTA must be in [0,1], got %v", c.EscalationDelta)
	}
	if c.MinContextLen < 0 {
		return fmt.Errorf("MIN_CONTEXT_LEN must be non-negative, got %d", c.MinContextLen)
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be positive, got %d", c.ClassifierTimeout)
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
