// Package startup implements StartupService: the ordered-before-pollers
// boot sequence that seeds declared manifests, prunes orphan groups, and
// recovers jobs stuck in progress across a restart. Grounded on
// ReconciliationWorker's exclusive-lease pattern since the teacher carries
// no direct StartupService analogue.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
)

const runType = "scheduler-startup"

// GroupSeed declares the manifests that should exist in one group after a
// boot, replacing whatever the group previously held with the same
// external-id prefix.
type GroupSeed struct {
	GroupName       string
	GroupPriority   int
	GroupMaxActive  *int
	PrunePrefix     string
	Manifests       []domain.Manifest
}

// Store is the persistence slice StartupService needs.
type Store interface {
	// TryAcquireExclusiveRun acquires a short-lived lease so only one
	// replica performs the boot sweep during a multi-replica rollout.
	TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error)

	// EnsureGroup creates a ManifestGroup by name if absent and returns its
	// ID; an existing group's priority and cap are left unchanged.
	EnsureGroup(ctx context.Context, name string, priority int, maxActiveJobs *int) (string, error)

	// BatchUpsertAndPrune seeds one group's manifests and deletes orphans
	// matching prunePrefix that are no longer declared.
	BatchUpsertAndPrune(ctx context.Context, items []domain.Manifest, prunePrefix, groupName string) ([]domain.Manifest, error)

	// PruneOrphanGroups deletes any ManifestGroup with no referencing
	// manifest.
	PruneOrphanGroups(ctx context.Context) (int, error)

	// RecoverStuckMetadata finds metadata rows stuck InProgress longer than
	// the smaller of (manifest.TimeoutSeconds, defaultStuckMetadataTimeout)
	// and marks them Failed("recovered on startup"), applying the normal
	// retry/dead-letter policy. Returns the count recovered.
	RecoverStuckMetadata(ctx context.Context, defaultTimeout time.Duration) (int, error)
}

// Config controls the boot sweep.
type Config struct {
	HolderID                   string
	LeaseDuration              time.Duration
	MaxStartupJitter           time.Duration
	RecoverStuckJobsOnStartup  bool
	DefaultStuckMetadataWindow time.Duration
}

// DefaultConfig follows ReconciliationWorker's jitter/lease defaults,
// with a 20-minute default stuck-metadata window; RecoverStuckMetadata
// applies the smaller of this window and a manifest's own timeout (see
// DESIGN.md Open Question 2).
func DefaultConfig(holderID string) Config {
	return Config{
		HolderID:                   holderID,
		LeaseDuration:              5 * time.Minute,
		MaxStartupJitter:           10 * time.Second,
		RecoverStuckJobsOnStartup:  true,
		DefaultStuckMetadataWindow: 20 * time.Minute,
	}
}

// Service runs the boot sweep once before any poll loop starts.
type Service struct {
	store Store
	seeds []GroupSeed
	cfg   Config
}

// New builds a Service.
func New(store Store, seeds []GroupSeed, cfg Config) *Service {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.DefaultStuckMetadataWindow <= 0 {
		cfg.DefaultStuckMetadataWindow = 20 * time.Minute
	}
	return &Service{store: store, seeds: seeds, cfg: cfg}
}

// Run performs the boot sweep: jittered exclusive-lease acquisition, then
// seed, prune, and (optionally) stuck-job recovery. Run returning nil does
// not guarantee this replica performed the sweep — it may have lost the
// lease race, which is the expected outcome for every replica but one.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.MaxStartupJitter > 0 {
		jitter := time.Duration(rand.Int64N(int64(s.cfg.MaxStartupJitter)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}

	release, acquired, err := s.store.TryAcquireExclusiveRun(ctx, runType, s.cfg.HolderID, s.cfg.LeaseDuration)
	if err != nil {
		return fmt.Errorf("startup: acquire lease: %w", err)
	}
	if !acquired {
		slog.InfoContext(ctx, "startup sweep skipped, another replica holds the lease")
		return nil
	}
	defer release()

	for _, seed := range s.seeds {
		if _, err := s.store.EnsureGroup(ctx, seed.GroupName, seed.GroupPriority, seed.GroupMaxActive); err != nil {
			return fmt.Errorf("startup: ensure group %s: %w", seed.GroupName, err)
		}
		saved, err := s.store.BatchUpsertAndPrune(ctx, seed.Manifests, seed.PrunePrefix, seed.GroupName)
		if err != nil {
			return fmt.Errorf("startup: seed group %s: %w", seed.GroupName, err)
		}
		slog.InfoContext(ctx, "seeded manifest group", "group", seed.GroupName, "manifest_count", len(saved))
	}

	pruned, err := s.store.PruneOrphanGroups(ctx)
	if err != nil {
		return fmt.Errorf("startup: prune orphan groups: %w", err)
	}
	if pruned > 0 {
		slog.InfoContext(ctx, "pruned orphan manifest groups", "count", pruned)
	}

	if s.cfg.RecoverStuckJobsOnStartup {
		recovered, err := s.store.RecoverStuckMetadata(ctx, s.cfg.DefaultStuckMetadataWindow)
		if err != nil {
			return fmt.Errorf("startup: recover stuck metadata: %w", err)
		}
		if recovered > 0 {
			slog.WarnContext(ctx, "recovered stuck metadata rows on startup", "count", recovered)
		}
	}

	return nil
}
