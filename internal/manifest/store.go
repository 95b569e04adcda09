// Package manifest implements ManifestScheduler (upsert/delete with DAG
// validation) and ManifestManager (the poll loop that turns due manifests
// into work_queue rows).
package manifest

import (
	"context"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
)

// SchedulerStore is the persistence slice ManifestScheduler needs.
type SchedulerStore interface {
	// UpsertManifest inserts or updates by ExternalID, preserving
	// LastSuccessfulRun and LastScheduledAt on update.
	UpsertManifest(ctx context.Context, m domain.Manifest) (*domain.Manifest, error)

	// BatchUpsertAndPrune upserts every item, then — if prunePrefix is
	// non-empty — deletes any manifest in groupName whose ExternalID
	// starts with prunePrefix and is not present in items, cascading to
	// its dead-letter and work-queue rows. All in one transaction.
	BatchUpsertAndPrune(ctx context.Context, items []domain.Manifest, prunePrefix, groupName string) ([]domain.Manifest, error)

	// SetEnabled flips a manifest's IsEnabled flag by ExternalID.
	SetEnabled(ctx context.Context, externalID string, enabled bool) error

	// GetManifestByExternalID looks up a manifest for parent resolution
	// and Trigger.
	GetManifestByExternalID(ctx context.Context, externalID string) (*domain.Manifest, error)

	// ParentChildEdges returns every (childExternalID -> parentExternalID)
	// edge currently persisted, used to validate a new Dependent manifest
	// would not close a cycle before it is written.
	ParentChildEdges(ctx context.Context) (map[string]string, error)

	// EnsureGroup inserts a ManifestGroup if it does not already exist by
	// name, returning its ID either way.
	EnsureGroup(ctx context.Context, name string, priority int, maxActiveJobs *int) (string, error)

	// CreateTriggerWorkQueueEntry inserts a Queued work_queue row for an
	// immediate manual trigger, bypassing the due-time check but not caps.
	CreateTriggerWorkQueueEntry(ctx context.Context, m domain.Manifest) error
}

// ManagerStore is the persistence slice ManifestManager needs.
type ManagerStore interface {
	// ListDueManifests returns enabled manifests (in enabled groups) whose
	// next fire time has arrived, per the Cron/Interval/Dependent rules in
	// SPEC §4.5.
	ListDueManifests(ctx context.Context, now time.Time) ([]domain.Manifest, error)

	// HasLiveQueueEntry reports whether a Queued work_queue row already
	// exists for this manifest, to avoid double-enqueueing on the next
	// poll tick before the prior row dispatches.
	HasLiveQueueEntry(ctx context.Context, manifestID string) (bool, error)

	// EnqueueDue inserts a Queued work_queue row for a due manifest and
	// stamps the manifest's LastScheduledAt in the same transaction.
	EnqueueDue(ctx context.Context, m domain.Manifest, now time.Time) error
}
