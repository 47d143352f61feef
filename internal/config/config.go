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
	Port        string
	GRPCPort    string // gRPC health endpoint; "" disables it
	FrontendURL string
	DBPath      string
	PlansFile   string // optional YAML plan catalog
	Completion  CompletionConfig
	Quota       QuotaConfig
	History     HistoryConfig
	RateLimit   RateLimitConfig
}

// CompletionConfig controls calls to the chat-completions backend.
type CompletionConfig struct {
	APIKey       string // process default credential
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
}

// QuotaConfig controls the monthly token budget.
type QuotaConfig struct {
	FreeTierTokens int64
	Location       *time.Location
}

// HistoryConfig controls background history recording.
type HistoryConfig struct {
	WriteTimeout time.Duration
}

// RateLimitConfig throttles message sends per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	tz := getEnv("QUOTA_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/chatdesk.db"),
		PlansFile:   getEnv("PLANS_FILE", ""),
		Completion: CompletionConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			DefaultModel: getEnv("DEFAULT_MODEL", "gpt-3.5-turbo"),
			Timeout:      getEnvDuration("COMPLETION_TIMEOUT", 60*time.Second),
			Temperature:  getEnvFloat("COMPLETION_TEMPERATURE", 0.7),
			MaxTokens:    getEnvInt("COMPLETION_MAX_TOKENS", 1000),
		},
		Quota: QuotaConfig{
			FreeTierTokens: int64(getEnvInt("FREE_TIER_TOKENS", 10000)),
			Location:       loc,
		},
		History: HistoryConfig{
			WriteTimeout: getEnvDuration("HISTORY_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
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
	if c.Completion.BaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL cannot be empty")
	}
	if c.Completion.DefaultModel == "" {
		return fmt.Errorf("DEFAULT_MODEL cannot be empty")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be > 0")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_MAX_TOKENS must be > 0")
	}
	if c.Quota.FreeTierTokens <= 0 {
		return fmt.Errorf("FREE_TIER_TOKENS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
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

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
