// Package cleanup implements MetadataCleanup: a poll loop that purges
// terminal metadata rows for whitelisted workflow types past a retention
// window, so the scheduler's own admin workflows (which run constantly)
// never bloat the table. The admin workflow names are always whitelisted
// regardless of caller-supplied configuration.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Admin workflow type names that are always eligible for cleanup,
// matching ManifestManager/JobDispatcher/TaskServerExecutor/
// MetadataCleanup's own internal bookkeeping workflows.
const (
	WorkflowManifestManager    = "ManifestManager"
	WorkflowJobDispatcher      = "JobDispatcher"
	WorkflowTaskServerExecutor = "TaskServerExecutor"
	WorkflowMetadataCleanup    = "MetadataCleanup"
)

var alwaysWhitelisted = []string{
	WorkflowManifestManager,
	WorkflowJobDispatcher,
	WorkflowTaskServerExecutor,
	WorkflowMetadataCleanup,
}

// Store is the persistence slice MetadataCleanup needs.
type Store interface {
	// PurgeTerminalMetadata deletes metadata rows in a terminal state
	// whose EndedAt is older than cutoff and whose WorkflowName is in
	// whitelist, returning the count deleted.
	PurgeTerminalMetadata(ctx context.Context, whitelist []string, cutoff time.Time) (int, error)
}

// Config controls retention and cadence.
type Config struct {
	PollingInterval time.Duration
	Retention       time.Duration
	// Whitelist is the caller-declared set of "noisy" workflow types
	// eligible for purge, in addition to the always-whitelisted admin
	// workflows.
	Whitelist []string
}

// DefaultConfig purges hourly with a 30-day retention, the same values
// internal/config uses as its cleanup defaults.
func DefaultConfig() Config {
	return Config{
		PollingInterval: time.Hour,
		Retention:       30 * 24 * time.Hour,
	}
}

// Cleaner runs the MetadataCleanup poll loop.
type Cleaner struct {
	store     Store
	cfg       Config
	whitelist []string
}

// New builds a Cleaner, merging the caller's whitelist with the
// always-whitelisted admin workflows.
func New(store Store, cfg Config) *Cleaner {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultConfig().PollingInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}

	seen := make(map[string]bool, len(cfg.Whitelist)+len(alwaysWhitelisted))
	var merged []string
	for _, name := range append(append([]string{}, alwaysWhitelisted...), cfg.Whitelist...) {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}

	return &Cleaner{store: store, cfg: cfg, whitelist: merged}
}

// Run blocks, purging on every PollingInterval tick until ctx is
// cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "metadata cleanup tick failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single purge pass.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-c.cfg.Retention)
	purged, err := c.store.PurgeTerminalMetadata(ctx, c.whitelist, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		slog.InfoContext(ctx, "purged terminal metadata", "count", purged, "cutoff", cutoff)
	}
	return nil
}
