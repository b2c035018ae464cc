package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the orchestrator server.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Registry     RegistryConfig
	Poller       PollerConfig
	Orchestrator OrchestratorConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// RegistryConfig controls the health sweep over registered services.
type RegistryConfig struct {
	ProbeInterval       time.Duration
	ProbeConnectTimeout time.Duration
	ProbeReadTimeout    time.Duration
	ProbeConcurrency    int
	DeactivateAfterDays int
	WarnAfterDays       int
}

// PollerConfig controls the job status sweep.
type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
}

// OrchestratorConfig controls job submission workers and outbound timeouts.
type OrchestratorConfig struct {
	SubmitWorkers int
	SubmitTimeout time.Duration
	StatusTimeout time.Duration
	CancelTimeout time.Duration
	InputDir      string
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("IMPUTATION_PORT", 8080),
			Env:  envString("IMPUTATION_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Registry: RegistryConfig{
			ProbeInterval:       envDuration("REGISTRY_PROBE_INTERVAL", 15*time.Minute),
			ProbeConnectTimeout: envDuration("REGISTRY_PROBE_CONNECT_TIMEOUT", 30*time.Second),
			ProbeReadTimeout:    envDuration("REGISTRY_PROBE_READ_TIMEOUT", 10*time.Second),
			ProbeConcurrency:    envInt("REGISTRY_PROBE_CONCURRENCY", 10),
			DeactivateAfterDays: envInt("REGISTRY_DEACTIVATE_AFTER_DAYS", 30),
			WarnAfterDays:       envInt("REGISTRY_WARN_AFTER_DAYS", 25),
		},
		Poller: PollerConfig{
			Interval:    envDuration("POLLER_INTERVAL", 120*time.Second),
			Concurrency: envInt("POLLER_CONCURRENCY", 8),
		},
		Orchestrator: OrchestratorConfig{
			SubmitWorkers: envInt("ORCHESTRATOR_SUBMIT_WORKERS", 4),
			SubmitTimeout: envDuration("ORCHESTRATOR_SUBMIT_TIMEOUT", 10*time.Minute),
			StatusTimeout: envDuration("ORCHESTRATOR_STATUS_TIMEOUT", 30*time.Second),
			CancelTimeout: envDuration("ORCHESTRATOR_CANCEL_TIMEOUT", 10*time.Second),
			InputDir:      envString("ORCHESTRATOR_INPUT_DIR", "./data/inputs"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", c.Database.URL)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Registry.ProbeInterval < time.Minute {
		return fmt.Errorf("REGISTRY_PROBE_INTERVAL must be at least 1m, got %s", c.Registry.ProbeInterval)
	}
	if c.Registry.WarnAfterDays >= c.Registry.DeactivateAfterDays {
		return fmt.Errorf("REGISTRY_WARN_AFTER_DAYS (%d) must be less than REGISTRY_DEACTIVATE_AFTER_DAYS (%d)",
			c.Registry.WarnAfterDays, c.Registry.DeactivateAfterDays)
	}

	if c.Poller.Interval < 10*time.Second {
		return fmt.Errorf("POLLER_INTERVAL must be at least 10s, got %s", c.Poller.Interval)
	}
	if c.Poller.Concurrency < 1 {
		return fmt.Errorf("POLLER_CONCURRENCY must be at least 1, got %d", c.Poller.Concurrency)
	}

	if c.Orchestrator.SubmitWorkers < 1 {
		return fmt.Errorf("ORCHESTRATOR_SUBMIT_WORKERS must be at least 1, got %d", c.Orchestrator.SubmitWorkers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
