// Package integration holds database-backed tests for the scheduler's
// Postgres store, gated on SCHEDCORE_STORAGE_DSN so they only run against
// a real instance and never as part of a default `go test ./...`.
package integration

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schedcore/schedcore/internal/storage/postgres"
)

// SetupTestStore connects a fresh Store with migrations applied and
// registers a cleanup that truncates every scheduler table, so each test
// starts from an empty database without needing its own teardown.
func SetupTestStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()

	dsn := testDSN(t)
	ctx := context.Background()

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:         dsn,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		truncateAll(t, store)
		store.Close()
	})

	return store, ctx
}

func truncateAll(t *testing.T, store *postgres.Store) {
	t.Helper()
	_, err := store.Pool().Exec(context.Background(), `
		TRUNCATE TABLE
			dead_letter, background_job, work_queue, metadata, manifest, manifest_group,
			cron_job_leases
		CASCADE`)
	require.NoError(t, err)
}

// testDSN returns the storage DSN for integration tests, skipping the
// test if it is not set.
func testDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("SCHEDCORE_STORAGE_DSN")
	if dsn == "" {
		t.Skip("SCHEDCORE_STORAGE_DSN not set, skipping postgres integration test")
	}
	return dsn
}
