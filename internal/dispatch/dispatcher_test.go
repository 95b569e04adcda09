package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatchStore struct {
	cands        []Candidate
	caps         AdmissionCaps
	globalActive int
	groupActive  map[string]int
	dispatched   []string
}

func (f *fakeDispatchStore) QueuedCandidates(ctx context.Context) ([]Candidate, AdmissionCaps, int, map[string]int, error) {
	return f.cands, f.caps, f.globalActive, f.groupActive, nil
}

func (f *fakeDispatchStore) DispatchBatch(ctx context.Context, workQueueIDs []string) error {
	f.dispatched = append(f.dispatched, workQueueIDs...)
	return nil
}

func TestDispatcher_RunOnce_AppliesBoostAndCaps(t *testing.T) {
	store := &fakeDispatchStore{
		cands: []Candidate{
			{WorkQueueID: "dependent-low", GroupName: "g1", Priority: 10, IsDependent: true},
			{WorkQueueID: "plain-high", GroupName: "g1", Priority: 20, IsDependent: false},
		},
		caps:        AdmissionCaps{GlobalCap: 1},
		groupActive: map[string]int{},
	}

	d := NewDispatcher(store, DefaultConfig())
	require.NoError(t, d.RunOnce(context.Background()))

	// plain-high (20) still outranks dependent-low (10+4=14) so only it
	// is admitted under a global cap of 1.
	assert.Equal(t, []string{"plain-high"}, store.dispatched)
}

func TestDispatcher_RunOnce_NoCandidates(t *testing.T) {
	store := &fakeDispatchStore{}
	d := NewDispatcher(store, DefaultConfig())
	require.NoError(t, d.RunOnce(context.Background()))
	assert.Empty(t, store.dispatched)
}
