package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManagerStore struct {
	due        []domain.Manifest
	live       map[string]bool
	enqueued   []string
	enqueueErr error
}

func (f *fakeManagerStore) ListDueManifests(ctx context.Context, now time.Time) ([]domain.Manifest, error) {
	return f.due, nil
}

func (f *fakeManagerStore) HasLiveQueueEntry(ctx context.Context, manifestID string) (bool, error) {
	return f.live[manifestID], nil
}

func (f *fakeManagerStore) EnqueueDue(ctx context.Context, m domain.Manifest, now time.Time) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, m.ID)
	return nil
}

func TestManager_RunOnce_EnqueuesDueManifests(t *testing.T) {
	store := &fakeManagerStore{
		due: []domain.Manifest{
			{ID: "m1", ExternalID: "job-1"},
			{ID: "m2", ExternalID: "job-2"},
		},
		live: map[string]bool{},
	}

	mgr := NewManager(store, DefaultManagerConfig())
	require.NoError(t, mgr.RunOnce(context.Background()))

	assert.ElementsMatch(t, []string{"m1", "m2"}, store.enqueued)
}

func TestManager_RunOnce_SkipsLiveQueueEntries(t *testing.T) {
	store := &fakeManagerStore{
		due: []domain.Manifest{
			{ID: "m1", ExternalID: "job-1"},
			{ID: "m2", ExternalID: "job-2"},
		},
		live: map[string]bool{"m1": true},
	}

	mgr := NewManager(store, DefaultManagerConfig())
	require.NoError(t, mgr.RunOnce(context.Background()))

	assert.Equal(t, []string{"m2"}, store.enqueued)
}
