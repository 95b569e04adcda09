package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedcore/schedcore/internal/cleanup"
	"github.com/schedcore/schedcore/internal/storage/postgres"
)

// TestCleanup_PurgesOnlyWhitelistedPastRetention checks that MetadataCleanup
// only deletes terminal metadata rows whose workflow name is whitelisted
// and whose EndedAt is older than the retention window, leaving everything
// else (other workflow names, non-terminal rows, recent rows) alone.
func TestCleanup_PurgesOnlyWhitelistedPastRetention(t *testing.T) {
	store, ctx := SetupTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)

	insertMetadata(t, ctx, store, "noisy-old", "completed", &old)
	insertMetadata(t, ctx, store, "noisy-recent", "completed", &recent)
	insertMetadata(t, ctx, store, "not-whitelisted-old", "completed", &old)
	insertMetadata(t, ctx, store, "noisy-old-in-progress", "in_progress", nil)

	cleaner := cleanup.New(store, cleanup.Config{
		PollingInterval: time.Hour,
		Retention:       24 * time.Hour,
		Whitelist:       []string{"noisy-old", "noisy-recent", "noisy-old-in-progress"},
	})
	require.NoError(t, cleaner.RunOnce(ctx))

	var remaining int
	require.NoError(t, store.Pool().QueryRow(ctx, `SELECT count(*) FROM metadata`).Scan(&remaining))
	assert.Equal(t, 3, remaining, "only the whitelisted, terminal, past-retention row should be purged")

	var noisyOldCount int
	require.NoError(t, store.Pool().QueryRow(ctx,
		`SELECT count(*) FROM metadata WHERE workflow_name = 'noisy-old'`).Scan(&noisyOldCount))
	assert.Zero(t, noisyOldCount)
}

func insertMetadata(t *testing.T, ctx context.Context, store *postgres.Store, workflowName, state string, endedAt *time.Time) {
	t.Helper()
	_, err := store.Pool().Exec(ctx, `
		INSERT INTO metadata (id, external_id, workflow_name, input, state, ended_at)
		VALUES ($1, $2, $3, '{}'::jsonb, $4, $5)`,
		uuid.NewString(), workflowName+"-"+uuid.NewString(), workflowName, state, endedAt)
	require.NoError(t, err)
}
