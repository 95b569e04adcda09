package startup

import (
	"context"
	"testing"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	acquired        bool
	released        bool
	ensuredGroups   []string
	seededManifests map[string][]domain.Manifest
	prunedOrphans   int
	recovered       int
}

func (f *fakeStore) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released = true }, true, nil
}

func (f *fakeStore) EnsureGroup(ctx context.Context, name string, priority int, maxActiveJobs *int) (string, error) {
	f.ensuredGroups = append(f.ensuredGroups, name)
	return "group-" + name, nil
}

func (f *fakeStore) BatchUpsertAndPrune(ctx context.Context, items []domain.Manifest, prunePrefix, groupName string) ([]domain.Manifest, error) {
	if f.seededManifests == nil {
		f.seededManifests = make(map[string][]domain.Manifest)
	}
	f.seededManifests[groupName] = items
	return items, nil
}

func (f *fakeStore) PruneOrphanGroups(ctx context.Context) (int, error) {
	return f.prunedOrphans, nil
}

func (f *fakeStore) RecoverStuckMetadata(ctx context.Context, defaultTimeout time.Duration) (int, error) {
	return f.recovered, nil
}

func TestService_Run_SeedsAndRecovers(t *testing.T) {
	store := &fakeStore{acquired: true, prunedOrphans: 2, recovered: 3}
	seeds := []GroupSeed{
		{GroupName: "builtin", Manifests: []domain.Manifest{{ExternalID: "m1"}}},
	}
	cfg := DefaultConfig("replica-1")
	cfg.MaxStartupJitter = 0

	svc := New(store, seeds, cfg)
	require.NoError(t, svc.Run(context.Background()))

	assert.Equal(t, []string{"builtin"}, store.ensuredGroups)
	assert.Len(t, store.seededManifests["builtin"], 1)
	assert.True(t, store.released)
}

func TestService_Run_SkipsWhenLeaseNotAcquired(t *testing.T) {
	store := &fakeStore{acquired: false}
	cfg := DefaultConfig("replica-2")
	cfg.MaxStartupJitter = 0

	svc := New(store, nil, cfg)
	require.NoError(t, svc.Run(context.Background()))

	assert.Empty(t, store.ensuredGroups)
	assert.False(t, store.released)
}
