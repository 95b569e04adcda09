// Package config loads the coordinator process's configuration from
// environment variables, following the teacher's internal/env reflection
// loader: defaults are set on the struct literal before Load so env.Load's
// "only touch fields whose env var is set" semantics act as overrides
// rather than overwrites.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schedcore/schedcore/internal/env"
)

// ErrDSNRequired is returned when no Postgres DSN was configured.
var ErrDSNRequired = errors.New("SCHEDCORE_POSTGRES_DSN is required")

// logLevelOverrideVar takes precedence over Observability.LogLevel,
// mirroring spec.md §6's CHAIN_SHARP_POSTGRES_LOG_LEVEL precedence rule.
const logLevelOverrideVar = "SCHEDCORE_LOG_LEVEL"

// Config is the coordinator process's full configuration surface.
type Config struct {
	Postgres      PostgresConfig
	Manager       ManagerConfig
	Dispatch      DispatchConfig
	TaskServer    TaskServerConfig
	Startup       StartupConfig
	Cleanup       CleanupConfig
	Observability ObservabilityConfig
}

// PostgresConfig holds connection settings for the coordinator's store.
type PostgresConfig struct {
	DSN             string        `env:"SCHEDCORE_POSTGRES_DSN"`
	MaxOpenConns    int           `env:"SCHEDCORE_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"SCHEDCORE_POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"SCHEDCORE_POSTGRES_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `env:"SCHEDCORE_POSTGRES_CONN_MAX_IDLE_TIME"`
	AutoMigrate     bool          `env:"SCHEDCORE_POSTGRES_AUTO_MIGRATE"`
}

// Validate implements env.Validator.
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}
	return nil
}

// ManagerConfig controls ManifestManager's poll cadence.
type ManagerConfig struct {
	PollingInterval time.Duration `env:"SCHEDCORE_MANAGER_POLL_INTERVAL"`
}

// DispatchConfig controls JobDispatcher's poll cadence and the dispatch
// admission algebra's global knobs.
type DispatchConfig struct {
	PollingInterval        time.Duration `env:"SCHEDCORE_DISPATCH_POLL_INTERVAL"`
	DependentPriorityBoost int           `env:"SCHEDCORE_DEPENDENT_PRIORITY_BOOST"`
	GlobalActiveJobCap     int           `env:"SCHEDCORE_GLOBAL_ACTIVE_JOB_CAP"` // 0 = unbounded
}

// TaskServerConfig controls the worker pool that claims background_job rows.
type TaskServerConfig struct {
	Workers           int           `env:"SCHEDCORE_WORKER_COUNT"` // 0 = runtime.NumCPU()
	PollInterval      time.Duration `env:"SCHEDCORE_WORKER_POLL_INTERVAL"`
	VisibilityTimeout time.Duration `env:"SCHEDCORE_VISIBILITY_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"SCHEDCORE_SHUTDOWN_TIMEOUT"`
}

// StartupConfig controls the boot sweep that runs before any poller.
type StartupConfig struct {
	HolderID                  string        `env:"SCHEDCORE_HOLDER_ID"`
	LeaseDuration             time.Duration `env:"SCHEDCORE_STARTUP_LEASE_DURATION"`
	MaxStartupJitter          time.Duration `env:"SCHEDCORE_STARTUP_MAX_JITTER"`
	RecoverStuckJobsOnStartup bool          `env:"SCHEDCORE_RECOVER_STUCK_JOBS"`
	StuckMetadataWindow       time.Duration `env:"SCHEDCORE_STUCK_METADATA_WINDOW"`
}

// CleanupConfig controls MetadataCleanup's retention policy.
type CleanupConfig struct {
	PollingInterval time.Duration `env:"SCHEDCORE_CLEANUP_POLL_INTERVAL"`
	Retention       time.Duration `env:"SCHEDCORE_CLEANUP_RETENTION"`
	// Whitelist is a comma-separated list of workflow type names eligible
	// for purge, in addition to the always-whitelisted admin workflows.
	Whitelist string `env:"SCHEDCORE_CLEANUP_WHITELIST"`
}

// WhitelistNames splits Whitelist into a trimmed, non-empty slice.
func (c CleanupConfig) WhitelistNames() []string {
	if c.Whitelist == "" {
		return nil
	}
	parts := strings.Split(c.Whitelist, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ObservabilityConfig controls OTel bootstrap and logging.
type ObservabilityConfig struct {
	ServiceName string `env:"SCHEDCORE_SERVICE_NAME"`
	OTelEnabled bool   `env:"SCHEDCORE_OTEL_ENABLED"`
	LogLevel    string `env:"SCHEDCORE_CONFIGURED_LOG_LEVEL"`
}

// ResolvedLogLevel returns SCHEDCORE_LOG_LEVEL when set, else the
// structured LogLevel field — the precedence spec.md §6 requires.
func (c ObservabilityConfig) ResolvedLogLevel() string {
	if v, ok := os.LookupEnv(logLevelOverrideVar); ok && v != "" {
		return v
	}
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return "info"
}

// Load reads process configuration from the environment, applying
// defaults first so env.Load's set-only-if-present semantics act as
// overrides rather than overwrites.
func Load() (*Config, error) {
	cfg := defaults()

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Postgres.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	holderID, err := os.Hostname()
	if err != nil || holderID == "" {
		holderID = "coordinator"
	}

	return &Config{
		Postgres: PostgresConfig{
			AutoMigrate: true,
		},
		Manager: ManagerConfig{
			PollingInterval: 15 * time.Second,
		},
		Dispatch: DispatchConfig{
			PollingInterval:        time.Second,
			DependentPriorityBoost: 4,
		},
		TaskServer: TaskServerConfig{
			PollInterval:      time.Second,
			VisibilityTimeout: 5 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
		},
		Startup: StartupConfig{
			HolderID:                  holderID,
			LeaseDuration:             5 * time.Minute,
			MaxStartupJitter:          10 * time.Second,
			RecoverStuckJobsOnStartup: true,
			StuckMetadataWindow:       20 * time.Minute,
		},
		Cleanup: CleanupConfig{
			PollingInterval: time.Hour,
			Retention:       30 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			ServiceName: "schedcore-coordinator",
			OTelEnabled: true,
		},
	}
}
