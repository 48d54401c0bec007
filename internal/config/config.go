// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	SessionTimeout time.Duration
	SweepInterval  time.Duration

	// ConfidenceThreshold is the extraction confidence below which a
	// collected value is flagged for confirmation.
	ConfidenceThreshold float64

	Gemini    GeminiConfig
	RateLimit RateLimitConfig
	TurnLog   TurnLogConfig
}

// GeminiConfig configures the AI generation capability.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// RateLimitConfig throttles chat requests per subject.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// TurnLogConfig controls NDJSON conversation turn logging.
type TurnLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/onboarding.db"),
		SessionTimeout:      getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.75),
		Gemini: GeminiConfig{
			APIKey:     getEnv("GEMINI_API_KEY", ""),
			Model:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			BaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			Timeout:    getEnvDuration("GEMINI_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvInt("GEMINI_MAX_RETRIES", 3),
			RetryDelay: getEnvDuration("GEMINI_RETRY_DELAY", time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		TurnLog: TurnLogConfig{
			Enabled:   getEnvBool("TURN_LOG_ENABLED", true),
			Dir:       getEnv("TURN_LOG_DIR", "./data/logs/turns"),
			QueueSize: getEnvInt("TURN_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be > 0")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if c.Gemini.MaxRetries < 1 {
		return fmt.Errorf("GEMINI_MAX_RETRIES must be >= 1")
	}
	if c.TurnLog.Enabled && c.TurnLog.Dir == "" {
		return fmt.Errorf("TURN_LOG_DIR cannot be empty when turn logging is enabled")
	}
	if c.TurnLog.QueueSize <= 0 {
		return fmt.Errorf("TURN_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
