package manifest

import (
	"context"
	"log/slog"
	"time"
)

// ManagerConfig controls the poll loop cadence.
type ManagerConfig struct {
	PollingInterval time.Duration
}

// DefaultManagerConfig mirrors the teacher's hourly-schedule/frequent-poll
// split, generalized to a single configurable interval since due-checking
// here is cheap (index scan) rather than the teacher's heavier template
// scan.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{PollingInterval: 15 * time.Second}
}

// Manager is ManifestManager: the poll loop that turns due manifests into
// Queued work_queue rows.
type Manager struct {
	store ManagerStore
	cfg   ManagerConfig
}

// NewManager builds a Manager.
func NewManager(store ManagerStore, cfg ManagerConfig) *Manager {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultManagerConfig().PollingInterval
	}
	return &Manager{store: store, cfg: cfg}
}

// Run blocks, polling every PollingInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollingInterval)
	defer ticker.Stop()

	if err := m.RunOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "manifest manager tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "manifest manager tick failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single due-check/enqueue pass, used directly by
// tests and by Run's initial immediate tick.
func (m *Manager) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := m.store.ListDueManifests(ctx, now)
	if err != nil {
		return err
	}

	for _, candidate := range due {
		live, err := m.store.HasLiveQueueEntry(ctx, candidate.ID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to check live queue entry", "manifest_id", candidate.ID, "error", err)
			continue
		}
		if live {
			continue
		}

		if err := m.store.EnqueueDue(ctx, candidate, now); err != nil {
			slog.ErrorContext(ctx, "failed to enqueue due manifest", "manifest_id", candidate.ID, "error", err)
			continue
		}

		slog.InfoContext(ctx, "enqueued due manifest",
			"manifest_id", candidate.ID, "external_id", candidate.ExternalID, "workflow", candidate.WorkflowTypeName)
	}

	return nil
}
