package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
	"github.com/schedcore/schedcore/internal/workflowbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu sync.Mutex

	metadata map[string]*domain.Metadata
	manifest map[string]*domain.Manifest

	completedSuccess   []string
	completedCancelled []string
	failed             []string
	deadLettered       []string
	willRetry          bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		metadata:  make(map[string]*domain.Metadata),
		manifest:  make(map[string]*domain.Manifest),
		willRetry: true,
	}
}

func (s *fakeStore) GetMetadata(ctx context.Context, id string) (*domain.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[id], nil
}

func (s *fakeStore) GetManifest(ctx context.Context, id string) (*domain.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest[id], nil
}

func (s *fakeStore) BeginExecution(ctx context.Context, metadataID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[metadataID].State = domain.MetadataInProgress
	s.metadata[metadataID].StartedAt = &startedAt
	return nil
}

func (s *fakeStore) IsCancellationRequested(ctx context.Context, metadataID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[metadataID].CancellationRequested, nil
}

func (s *fakeStore) CompleteSuccess(ctx context.Context, metadataID string, output []byte, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedSuccess = append(s.completedSuccess, metadataID)
	s.metadata[metadataID].State = domain.MetadataCompleted
	return nil
}

func (s *fakeStore) CompleteCancelled(ctx context.Context, metadataID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedCancelled = append(s.completedCancelled, metadataID)
	s.metadata[metadataID].State = domain.MetadataCancelled
	return nil
}

func (s *fakeStore) FailAndMaybeRetry(ctx context.Context, metadataID string, reason string, endedAt time.Time, retryDelay time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, metadataID)
	s.metadata[metadataID].State = domain.MetadataFailed
	return s.willRetry, nil
}

func (s *fakeStore) DeadLetter(ctx context.Context, manifestID, reason string, retryCountAtDeadLetter int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLettered = append(s.deadLettered, manifestID)
	return nil
}

func TestExecutor_Run_Success(t *testing.T) {
	store := newFakeStore()
	store.metadata["m1"] = &domain.Metadata{ID: "m1", WorkflowName: "greet", State: domain.MetadataPending, Input: []byte(`{}`)}

	registry := workflowbus.NewRegistry()
	require.NoError(t, workflowbus.Register(registry, "greet", "empty", func(ctx workflowbus.Context, in struct{}) (struct{ OK bool }, error) {
		return struct{ OK bool }{OK: true}, nil
	}))

	ex := New(store, registry, DefaultConfig())
	err := ex.Run(context.Background(), "job-1", "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1"}, store.completedSuccess)
	assert.Empty(t, store.failed)
}

func TestExecutor_Run_Cancelled(t *testing.T) {
	store := newFakeStore()
	store.metadata["m1"] = &domain.Metadata{ID: "m1", WorkflowName: "greet", State: domain.MetadataPending, CancellationRequested: true}

	registry := workflowbus.NewRegistry()
	require.NoError(t, workflowbus.Register(registry, "greet", "empty", func(ctx workflowbus.Context, in struct{}) (struct{}, error) {
		t.Fatal("handler should not run when cancellation already requested")
		return struct{}{}, nil
	}))

	ex := New(store, registry, DefaultConfig())
	err := ex.Run(context.Background(), "job-1", "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1"}, store.completedCancelled)
}

func TestExecutor_Run_UnknownWorkflow_Fails(t *testing.T) {
	store := newFakeStore()
	store.willRetry = false
	store.manifest["man1"] = &domain.Manifest{ID: "man1", MaxRetries: 0}
	manID := "man1"
	store.metadata["m1"] = &domain.Metadata{ID: "m1", ManifestID: &manID, WorkflowName: "missing", State: domain.MetadataPending}

	registry := workflowbus.NewRegistry()

	ex := New(store, registry, DefaultConfig())
	err := ex.Run(context.Background(), "job-1", "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1"}, store.failed)
	assert.Equal(t, []string{"man1"}, store.deadLettered)
}

func TestExecutor_Run_PanicRecovered(t *testing.T) {
	store := newFakeStore()
	store.willRetry = true
	store.metadata["m1"] = &domain.Metadata{ID: "m1", WorkflowName: "boom", State: domain.MetadataPending}

	registry := workflowbus.NewRegistry()
	require.NoError(t, workflowbus.Register(registry, "boom", "empty", func(ctx workflowbus.Context, in struct{}) (struct{}, error) {
		panic("kaboom")
	}))

	ex := New(store, registry, DefaultConfig())
	err := ex.Run(context.Background(), "job-1", "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1"}, store.failed)
}
