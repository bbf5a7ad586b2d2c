// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Draft storage backends.
const (
	DraftBackendSQLite = "sqlite"
	DraftBackendPebble = "pebble"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DraftBackend    string // "sqlite" (default) or "pebble"
	PebblePath      string
	GRPCHealthAddr  string // empty disables the gRPC health server
	ShutdownTimeout time.Duration
	HealthTimeout   time.Duration
	Marketplace     MarketplaceConfig
	Workspace       WorkspaceConfig
	RateLimit       RateLimitConfig
}

// MarketplaceConfig points at the marketplace REST backend.
type MarketplaceConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// WorkspaceConfig controls the timers of an open quote response workspace.
type WorkspaceConfig struct {
	AutosaveInterval  time.Duration
	FlushOnClose      bool
	PollInterval      time.Duration
	HighlightDuration time.Duration
	IdleTTL           time.Duration // untouched workspaces are closed after this
}

// RateLimitConfig bounds mutating requests per seller.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/quoteworks.db"),
		DraftBackend:    strings.ToLower(getEnv("DRAFT_BACKEND", DraftBackendSQLite)),
		PebblePath:      getEnv("PEBBLE_PATH", "./data/drafts"),
		GRPCHealthAddr:  getEnv("GRPC_HEALTH_ADDR", ""),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HealthTimeout:   getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		Marketplace: MarketplaceConfig{
			BaseURL: strings.TrimRight(getEnv("MARKETPLACE_URL", "http://localhost:9000/api"), "/"),
			Token:   getEnv("MARKETPLACE_TOKEN", ""),
			Timeout: getEnvDuration("MARKETPLACE_TIMEOUT", 10*time.Second),
		},
		Workspace: WorkspaceConfig{
			AutosaveInterval:  getEnvDuration("AUTOSAVE_INTERVAL", 30*time.Second),
			FlushOnClose:      getEnvBool("AUTOSAVE_FLUSH_ON_CLOSE", false),
			PollInterval:      getEnvDuration("POLL_INTERVAL", 15*time.Second),
			HighlightDuration: getEnvDuration("HIGHLIGHT_DURATION", 3*time.Second),
			IdleTTL:           getEnvDuration("WORKSPACE_IDLE_TTL", 2*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
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
	switch c.DraftBackend {
	case DraftBackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DraftBackendPebble:
		if c.PebblePath == "" {
			return fmt.Errorf("PEBBLE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("DRAFT_BACKEND must be %q or %q, got %q", DraftBackendSQLite, DraftBackendPebble, c.DraftBackend)
	}
	if c.Marketplace.BaseURL == "" {
		return fmt.Errorf("MARKETPLACE_URL cannot be empty")
	}
	if c.Marketplace.Timeout <= 0 {
		return fmt.Errorf("MARKETPLACE_TIMEOUT must be > 0")
	}
	if c.Workspace.AutosaveInterval <= 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must be > 0")
	}
	if c.Workspace.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Workspace.HighlightDuration <= 0 {
		return fmt.Errorf("HIGHLIGHT_DURATION must be > 0")
	}
	if c.Workspace.IdleTTL <= 0 {
		return fmt.Errorf("WORKSPACE_IDLE_TTL must be > 0")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
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
