package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedcore/schedcore/internal/dispatch"
	"github.com/schedcore/schedcore/internal/executor"
	"github.com/schedcore/schedcore/internal/manifest"
	"github.com/schedcore/schedcore/internal/schedule"
	"github.com/schedcore/schedcore/internal/taskserver"
	"github.com/schedcore/schedcore/internal/workflowbus"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Greeting string `json:"greeting"`
}

func registry(t *testing.T) *workflowbus.Registry {
	t.Helper()
	r := workflowbus.NewRegistry()
	require.NoError(t, workflowbus.Register(r, "greet", "greetInput", func(ctx workflowbus.Context, in greetInput) (greetOutput, error) {
		return greetOutput{Greeting: "hello " + in.Name}, nil
	}))
	return r
}

// TestLifecycle_ScheduleThroughExecution drives one manifest end to end
// through every poll workflow: ManifestManager enqueues the due manifest,
// JobDispatcher admits and dispatches it, TaskServerExecutor claims and
// runs it, and the resulting metadata row ends up Completed.
func TestLifecycle_ScheduleThroughExecution(t *testing.T) {
	store, ctx := SetupTestStore(t)
	reg := registry(t)

	sched := manifest.NewScheduler(store, reg)
	input, err := json.Marshal(greetInput{Name: "world"})
	require.NoError(t, err)

	m, err := sched.ScheduleAsync(ctx, "greet-once", "greet", input, schedule.Interval(time.Minute), manifest.ScheduleOptions{
		GroupName: "default-" + t.Name(),
		Priority:  16,
	})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	mgr := manifest.NewManager(store, manifest.ManagerConfig{PollingInterval: time.Second})
	require.NoError(t, mgr.RunOnce(ctx))

	disp := dispatch.NewDispatcher(store, dispatch.Config{PollingInterval: time.Second})
	require.NoError(t, disp.RunOnce(ctx))

	ts := store
	job, err := ts.Claim(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job, "dispatched work should have produced a claimable background job")

	exec := executor.New(store, reg, executor.DefaultConfig())
	var payload taskserver.Payload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))

	require.NoError(t, exec.Run(ctx, job.ID, payload.MetadataID, noopHeartbeater{}))

	meta, err := store.GetMetadata(ctx, payload.MetadataID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "completed", string(meta.State))

	var out greetOutput
	require.NoError(t, json.Unmarshal(meta.Output, &out))
	assert.Equal(t, "hello world", out.Greeting)

	require.NoError(t, ts.Complete(ctx, job.ID))
}

// TestLifecycle_OnDemandNeverAutoEnqueues confirms an on_demand manifest is
// never picked up by ManifestManager's due-check, only TriggerAsync.
func TestLifecycle_OnDemandNeverAutoEnqueues(t *testing.T) {
	store, ctx := SetupTestStore(t)
	reg := registry(t)
	sched := manifest.NewScheduler(store, reg)

	_, err := sched.ScheduleAsync(ctx, "greet-on-demand", "greet", []byte(`{"name":"trigger-me"}`), schedule.Schedule{}, manifest.ScheduleOptions{
		GroupName: "default-" + t.Name(),
		Priority:  16,
	})
	require.NoError(t, err)

	mgr := manifest.NewManager(store, manifest.ManagerConfig{PollingInterval: time.Second})
	require.NoError(t, mgr.RunOnce(ctx))

	var count int
	require.NoError(t, store.Pool().QueryRow(ctx, `SELECT count(*) FROM work_queue`).Scan(&count))
	assert.Zero(t, count, "on_demand manifests must not be auto-enqueued by ManifestManager")

	require.NoError(t, sched.TriggerAsync(ctx, "greet-on-demand"))
	require.NoError(t, store.Pool().QueryRow(ctx, `SELECT count(*) FROM work_queue`).Scan(&count))
	assert.Equal(t, 1, count, "TriggerAsync must enqueue regardless of schedule")
}

type noopHeartbeater struct{}

func (noopHeartbeater) Heartbeat(ctx context.Context, jobID string) error { return nil }
