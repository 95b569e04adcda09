package executor

import (
	"context"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
)

// Store is the slice of persistence operations TaskServerExecutor needs.
// Defined here (consumer-owned) rather than in internal/storage/postgres
// so the executor can be tested against a fake without importing pgx.
type Store interface {
	// GetMetadata loads one metadata row by ID.
	GetMetadata(ctx context.Context, id string) (*domain.Metadata, error)

	// GetManifest loads the manifest a metadata row was dispatched from.
	// Returns nil, nil for ad-hoc metadata with no ManifestID.
	GetManifest(ctx context.Context, id string) (*domain.Manifest, error)

	// BeginExecution CAS-transitions metadata Pending -> InProgress and
	// stamps startedAt. Returns domain.ErrNotOwner if the row was not in
	// Pending state (e.g. already claimed by a racing worker, though that
	// should not happen given TaskServer's single-claim guarantee).
	BeginExecution(ctx context.Context, metadataID string, startedAt time.Time) error

	// IsCancellationRequested re-reads the cancellation flag, used between
	// workflow steps for cooperative cancellation.
	IsCancellationRequested(ctx context.Context, metadataID string) (bool, error)

	// CompleteSuccess transitions metadata to Completed, stores output, and
	// — in the same transaction — advances the owning manifest's
	// LastSuccessfulRun to endedAt.
	CompleteSuccess(ctx context.Context, metadataID string, output []byte, endedAt time.Time) error

	// CompleteCancelled transitions metadata to Cancelled. No retry, no
	// dead letter.
	CompleteCancelled(ctx context.Context, metadataID string, endedAt time.Time) error

	// FailAndMaybeRetry transitions metadata to Failed and, if retryCount
	// is still below the manifest's MaxRetries, atomically creates a new
	// Queued work_queue row carrying the same priority for a retry attempt.
	// Returns willRetry=false once retries are exhausted; callers then call
	// DeadLetter.
	FailAndMaybeRetry(ctx context.Context, metadataID string, reason string, endedAt time.Time, retryDelay time.Duration) (willRetry bool, err error)

	// DeadLetter creates a DeadLetter row for an exhausted/permanently
	// failed manifest execution. Idempotent per exhausted retry chain: the
	// caller only invokes this once FailAndMaybeRetry reports willRetry=false.
	DeadLetter(ctx context.Context, manifestID, reason string, retryCountAtDeadLetter int) error
}
