package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	gotWhitelist []string
	purged       int
}

func (f *fakeStore) PurgeTerminalMetadata(ctx context.Context, whitelist []string, cutoff time.Time) (int, error) {
	f.gotWhitelist = whitelist
	return f.purged, nil
}

func TestNew_MergesAlwaysWhitelistedWorkflows(t *testing.T) {
	store := &fakeStore{purged: 5}
	c := New(store, Config{Whitelist: []string{"NightlyReportJob"}})

	require.NoError(t, c.RunOnce(context.Background()))

	assert.Contains(t, store.gotWhitelist, "NightlyReportJob")
	assert.Contains(t, store.gotWhitelist, WorkflowManifestManager)
	assert.Contains(t, store.gotWhitelist, WorkflowJobDispatcher)
	assert.Contains(t, store.gotWhitelist, WorkflowTaskServerExecutor)
	assert.Contains(t, store.gotWhitelist, WorkflowMetadataCleanup)
}

func TestNew_DedupesOverlappingWhitelist(t *testing.T) {
	store := &fakeStore{}
	c := New(store, Config{Whitelist: []string{WorkflowManifestManager}})

	require.NoError(t, c.RunOnce(context.Background()))

	count := 0
	for _, name := range store.gotWhitelist {
		if name == WorkflowManifestManager {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
