package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/schedcore/schedcore/internal/domain"
	"github.com/schedcore/schedcore/internal/schedule"
	"github.com/schedcore/schedcore/internal/workflowbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchedulerStore struct {
	manifests map[string]*domain.Manifest
	edges     map[string]string
	triggered []string
}

func newFakeSchedulerStore() *fakeSchedulerStore {
	return &fakeSchedulerStore{
		manifests: make(map[string]*domain.Manifest),
		edges:     make(map[string]string),
	}
}

func (f *fakeSchedulerStore) UpsertManifest(ctx context.Context, m domain.Manifest) (*domain.Manifest, error) {
	if existing, ok := f.manifests[m.ExternalID]; ok {
		m.ID = existing.ID
		m.LastSuccessfulRun = existing.LastSuccessfulRun
	}
	f.manifests[m.ExternalID] = &m
	if m.ParentManifestID != nil {
		f.edges[m.ExternalID] = *f.parentExternalID(*m.ParentManifestID)
	}
	return &m, nil
}

func (f *fakeSchedulerStore) parentExternalID(id string) *string {
	for ext, man := range f.manifests {
		if man.ID == id {
			return &ext
		}
	}
	empty := ""
	return &empty
}

func (f *fakeSchedulerStore) BatchUpsertAndPrune(ctx context.Context, items []domain.Manifest, prunePrefix, groupName string) ([]domain.Manifest, error) {
	keep := make(map[string]bool, len(items))
	for _, item := range items {
		keep[item.ExternalID] = true
		f.manifests[item.ExternalID] = &item
	}
	if prunePrefix != "" {
		for ext := range f.manifests {
			if len(ext) >= len(prunePrefix) && ext[:len(prunePrefix)] == prunePrefix && !keep[ext] {
				delete(f.manifests, ext)
			}
		}
	}
	result := make([]domain.Manifest, 0, len(items))
	for _, item := range items {
		result = append(result, item)
	}
	return result, nil
}

func (f *fakeSchedulerStore) SetEnabled(ctx context.Context, externalID string, enabled bool) error {
	if m, ok := f.manifests[externalID]; ok {
		m.IsEnabled = enabled
	}
	return nil
}

func (f *fakeSchedulerStore) GetManifestByExternalID(ctx context.Context, externalID string) (*domain.Manifest, error) {
	return f.manifests[externalID], nil
}

func (f *fakeSchedulerStore) ParentChildEdges(ctx context.Context) (map[string]string, error) {
	return f.edges, nil
}

func (f *fakeSchedulerStore) EnsureGroup(ctx context.Context, name string, priority int, maxActiveJobs *int) (string, error) {
	return "group-" + name, nil
}

func (f *fakeSchedulerStore) CreateTriggerWorkQueueEntry(ctx context.Context, m domain.Manifest) error {
	f.triggered = append(f.triggered, m.ExternalID)
	return nil
}

func registeredRegistry(t *testing.T) *workflowbus.Registry {
	t.Helper()
	r := workflowbus.NewRegistry()
	require.NoError(t, workflowbus.Register(r, "greet", "greetInput", func(ctx workflowbus.Context, in struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))
	return r
}

func TestScheduler_ScheduleAsync_UnregisteredWorkflow(t *testing.T) {
	store := newFakeSchedulerStore()
	sched := NewScheduler(store, workflowbus.NewRegistry())

	_, err := sched.ScheduleAsync(context.Background(), "job-1", "missing", nil, schedule.Interval(time.Minute), DefaultScheduleOptions())
	require.Error(t, err)

	var unregistered *ErrUnregisteredWorkflow
	require.ErrorAs(t, err, &unregistered)
}

func TestScheduler_ScheduleAsync_Upsert(t *testing.T) {
	store := newFakeSchedulerStore()
	sched := NewScheduler(store, registeredRegistry(t))

	m1, err := sched.ScheduleAsync(context.Background(), "job-1", "greet", []byte(`{}`), schedule.Interval(time.Minute), DefaultScheduleOptions())
	require.NoError(t, err)
	require.NotEmpty(t, m1.ID)

	m2, err := sched.ScheduleAsync(context.Background(), "job-1", "greet", []byte(`{}`), schedule.Interval(time.Minute), DefaultScheduleOptions())
	require.NoError(t, err)

	assert.Equal(t, m1.ID, m2.ID, "re-scheduling the same externalId upserts rather than creating a new manifest")
}

func TestScheduler_ScheduleDependentAsync_MissingParent(t *testing.T) {
	store := newFakeSchedulerStore()
	sched := NewScheduler(store, registeredRegistry(t))

	_, err := sched.ScheduleDependentAsync(context.Background(), "child", "greet", nil, "parent", DefaultScheduleOptions())
	require.Error(t, err)

	var missing *ErrMissingParent
	require.ErrorAs(t, err, &missing)
}

func TestScheduler_ScheduleDependentAsync_RejectsCycle(t *testing.T) {
	store := newFakeSchedulerStore()
	store.manifests["a"] = &domain.Manifest{ID: uuid.NewString(), ExternalID: "a"}
	store.manifests["b"] = &domain.Manifest{ID: uuid.NewString(), ExternalID: "b"}
	store.edges["b"] = "a" // b depends on a

	sched := NewScheduler(store, registeredRegistry(t))

	// Scheduling "a" to depend on "b" would close the cycle a -> b -> a.
	_, err := sched.ScheduleDependentAsync(context.Background(), "a", "greet", nil, "b", DefaultScheduleOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
}

func TestScheduler_TriggerAsync(t *testing.T) {
	store := newFakeSchedulerStore()
	store.manifests["job-1"] = &domain.Manifest{ID: uuid.NewString(), ExternalID: "job-1", Priority: 5}

	sched := NewScheduler(store, registeredRegistry(t))
	require.NoError(t, sched.TriggerAsync(context.Background(), "job-1"))

	assert.Equal(t, []string{"job-1"}, store.triggered)
}

func TestScheduler_EnableDisable(t *testing.T) {
	store := newFakeSchedulerStore()
	store.manifests["job-1"] = &domain.Manifest{ID: uuid.NewString(), ExternalID: "job-1", IsEnabled: true}

	sched := NewScheduler(store, registeredRegistry(t))
	require.NoError(t, sched.DisableAsync(context.Background(), "job-1"))
	assert.False(t, store.manifests["job-1"].IsEnabled)

	require.NoError(t, sched.EnableAsync(context.Background(), "job-1"))
	assert.True(t, store.manifests["job-1"].IsEnabled)
}
