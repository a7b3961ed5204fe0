// Package config provides environment-driven configuration for the trigger
// pipeline process. All knobs are plain environment variables; unset values
// fall back to documented defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Processor ProcessorConfig
	RateLimit RateLimitConfig
	Workers   WorkerConfig
	Ops       OpsConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings. URL, when set, wins over the
// discrete host/port/password fields.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
}

// Addr returns the host:port address for the go-redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseURL extracts addr/password from a redis:// URL when URL is set.
func (c RedisConfig) ParseURL() (addr, password string, err error) {
	if c.URL == "" {
		return c.Addr(), c.Password, nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", "", fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	password = c.Password
	if pw, ok := u.User.Password(); ok {
		password = pw
	}
	return u.Host, password, nil
}

// ProcessorConfig holds event processing settings.
type ProcessorConfig struct {
	Channel             string
	MaxConcurrentEvents int
	ProcessingTimeout   time.Duration
	StateCacheEnabled   bool
	StateCacheTTL       time.Duration
	StateRetentionDays  int
	PollerInterval      time.Duration
	PollerGrace         time.Duration
}

// RateLimitConfig holds sliding-window limiter settings.
type RateLimitConfig struct {
	WindowSeconds int
	FailOpen      bool
	OpsLimit      int
}

// WorkerConfig holds per-action-kind worker pool sizes.
type WorkerConfig struct {
	ChatWorkers int
	RestWorkers int
	ToolWorkers int
	PopTimeout  time.Duration
	MaxAttempts int
}

// OpsConfig holds the operational HTTP surface settings.
type OpsConfig struct {
	Host           string
	Port           int
	TrustedProxies []string
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:         envString("DB_HOST", "localhost"),
			Port:         envInt("DB_PORT", 5432),
			Name:         envString("DB_NAME", "triggerflow"),
			User:         envString("DB_USER", "postgres"),
			Password:     envString("DB_PASSWORD", ""),
			SSLMode:      envString("DB_SSL_MODE", "prefer"),
			MaxOpenConns: envInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns: envInt("DB_MIN_CONNECTIONS", 5),
			MaxLifetime:  envDuration("DB_MAX_LIFETIME_SECS", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      envString("REDIS_URL", ""),
			Host:     envString("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: envString("REDIS_PASSWORD", ""),
		},
		Processor: ProcessorConfig{
			Channel:             envString("EVENT_CHANNEL", "new_event"),
			MaxConcurrentEvents: envInt("MAX_CONCURRENT_EVENTS", 100),
			ProcessingTimeout:   envDuration("EVENT_PROCESSING_TIMEOUT_SECS", 30*time.Second),
			StateCacheEnabled:   envBool("STATE_CACHE_ENABLED", true),
			StateCacheTTL:       envDuration("STATE_CACHE_TTL_SECS", 300*time.Second),
			StateRetentionDays:  envInt("STATE_RETENTION_DAYS", 30),
			PollerInterval:      envDuration("POLLER_INTERVAL_SECS", 60*time.Second),
			PollerGrace:         envDuration("POLLER_GRACE_SECS", 120*time.Second),
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECS", 3600),
			FailOpen:      envBool("RATE_LIMIT_FAIL_OPEN", true),
			OpsLimit:      envInt("RATE_LIMIT_OPS_LIMIT", 600),
		},
		Workers: WorkerConfig{
			ChatWorkers: envInt("CHAT_WORKERS", 2),
			RestWorkers: envInt("REST_WORKERS", 4),
			ToolWorkers: envInt("TOOL_WORKERS", 2),
			PopTimeout:  envDuration("WORKER_POP_TIMEOUT_SECS", 5*time.Second),
			MaxAttempts: envInt("WORKER_MAX_ATTEMPTS", 3),
		},
		Ops: OpsConfig{
			Host:           envString("OPS_HOST", "0.0.0.0"),
			Port:           envInt("OPS_PORT", 9090),
			TrustedProxies: envCSV("TRUSTED_PROXIES"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid DB_PORT: %d", c.Database.Port)
	}
	if c.Processor.MaxConcurrentEvents <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_EVENTS must be positive")
	}
	if c.Processor.ProcessingTimeout <= 0 {
		return fmt.Errorf("EVENT_PROCESSING_TIMEOUT_SECS must be positive")
	}
	if c.RateLimit.WindowSeconds < 60 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECS must be at least 60")
	}
	if c.Workers.MaxAttempts <= 0 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// =============================================================================
// Environment helpers
// =============================================================================

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envDuration reads a whole-seconds value.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func envCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
