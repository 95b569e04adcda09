package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedcore/schedcore/internal/dispatch"
	"github.com/schedcore/schedcore/internal/manifest"
	"github.com/schedcore/schedcore/internal/schedule"
)

// TestStartup_RecoversStuckMetadataToDeadLetter simulates a crash mid
// execution: a manifest with no retries left has a metadata row stuck
// InProgress long past its timeout. RecoverStuckMetadata must fail it and
// dead-letter the manifest rather than leave it stuck forever.
func TestStartup_RecoversStuckMetadataToDeadLetter(t *testing.T) {
	store, ctx := SetupTestStore(t)
	reg := registry(t)
	sched := manifest.NewScheduler(store, reg)

	timeout := 30
	m, err := sched.ScheduleAsync(ctx, "stuck-job", "greet", []byte(`{}`), schedule.Interval(time.Minute), manifest.ScheduleOptions{
		GroupName:      "recovery-" + t.Name(),
		Priority:       16,
		MaxRetries:     1,
		TimeoutSeconds: &timeout,
	})
	require.NoError(t, err)

	mgr := manifest.NewManager(store, manifest.ManagerConfig{PollingInterval: time.Second})
	require.NoError(t, mgr.RunOnce(ctx))

	disp := dispatch.NewDispatcher(store, dispatch.Config{PollingInterval: time.Second})
	require.NoError(t, disp.RunOnce(ctx))

	var metadataID string
	require.NoError(t, store.Pool().QueryRow(ctx,
		`SELECT id FROM metadata WHERE manifest_id = $1`, m.ID).Scan(&metadataID))

	startedAt := time.Now().UTC().Add(-time.Hour)
	_, err = store.Pool().Exec(ctx,
		`UPDATE metadata SET state = 'in_progress', started_at = $1, retry_count = $2 WHERE id = $3`,
		startedAt, 1, metadataID)
	require.NoError(t, err)

	recovered, err := store.RecoverStuckMetadata(ctx, 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	var state string
	require.NoError(t, store.Pool().QueryRow(ctx, `SELECT state FROM metadata WHERE id = $1`, metadataID).Scan(&state))
	assert.Equal(t, "failed", state)

	var deadLetterCount int
	require.NoError(t, store.Pool().QueryRow(ctx,
		`SELECT count(*) FROM dead_letter WHERE manifest_id = $1`, m.ID).Scan(&deadLetterCount))
	assert.Equal(t, 1, deadLetterCount, "exhausted retries must dead-letter the manifest")
}
