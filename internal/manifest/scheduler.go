package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schedcore/schedcore/internal/dag"
	"github.com/schedcore/schedcore/internal/domain"
	"github.com/schedcore/schedcore/internal/ptr"
	"github.com/schedcore/schedcore/internal/schedule"
	"github.com/schedcore/schedcore/internal/workflowbus"
)

// ErrUnregisteredWorkflow is a fatal configuration error: a manifest was
// scheduled for a workflow name that has no registered handler.
type ErrUnregisteredWorkflow struct {
	WorkflowName string
}

func (e *ErrUnregisteredWorkflow) Error() string {
	return fmt.Sprintf("manifest: workflow %q is not registered", e.WorkflowName)
}

// ErrMissingParent is a fatal configuration error: ScheduleDependentAsync
// referenced a parent ExternalID that does not exist yet.
type ErrMissingParent struct {
	ParentExternalID string
}

func (e *ErrMissingParent) Error() string {
	return fmt.Sprintf("manifest: parent manifest %q does not exist", e.ParentExternalID)
}

// ScheduleOptions carries the optional fields ScheduleAsync/
// ScheduleDependentAsync accept beyond the required schedule/input.
type ScheduleOptions struct {
	GroupName        string
	GroupPriority    int
	GroupMaxActive   *int
	Priority         int
	MaxRetries       int
	TimeoutSeconds   *int
	IsDormant        bool
	InputTypeName    string
}

// DefaultScheduleOptions mirrors the field defaults implied by SPEC §3/§6.
func DefaultScheduleOptions() ScheduleOptions {
	return ScheduleOptions{
		GroupName:  "default",
		Priority:   16,
		MaxRetries: 3,
	}
}

// Scheduler implements ManifestScheduler: ScheduleAsync,
// ScheduleDependentAsync, the batch variants, Enable/DisableAsync, and
// TriggerAsync.
type Scheduler struct {
	store    SchedulerStore
	registry *workflowbus.Registry
}

// NewScheduler builds a Scheduler.
func NewScheduler(store SchedulerStore, registry *workflowbus.Registry) *Scheduler {
	return &Scheduler{store: store, registry: registry}
}

// ScheduleAsync upserts a Manifest bound to workflowName on the given
// schedule. Fails with ErrUnregisteredWorkflow if workflowName was never
// registered in the WorkflowBus.
func (s *Scheduler) ScheduleAsync(ctx context.Context, externalID, workflowName string, input []byte, sched schedule.Schedule, opts ScheduleOptions) (*domain.Manifest, error) {
	if _, ok := s.registry.InputTypeName(workflowName); !ok {
		return nil, &ErrUnregisteredWorkflow{WorkflowName: workflowName}
	}

	groupID, err := s.store.EnsureGroup(ctx, opts.GroupName, opts.GroupPriority, opts.GroupMaxActive)
	if err != nil {
		return nil, fmt.Errorf("manifest: ensure group %q: %w", opts.GroupName, err)
	}

	m, err := s.buildManifest(externalID, workflowName, input, sched, opts, groupID, nil)
	if err != nil {
		return nil, err
	}

	return s.store.UpsertManifest(ctx, *m)
}

// ScheduleDependentAsync upserts a Dependent Manifest whose parent is
// resolved by dependsOnExternalID. Fails with ErrMissingParent if the
// parent does not exist, and rejects the upsert if it would close a cycle
// in the parent-chain DAG.
func (s *Scheduler) ScheduleDependentAsync(ctx context.Context, externalID, workflowName string, input []byte, dependsOnExternalID string, opts ScheduleOptions) (*domain.Manifest, error) {
	if _, ok := s.registry.InputTypeName(workflowName); !ok {
		return nil, &ErrUnregisteredWorkflow{WorkflowName: workflowName}
	}

	parent, err := s.store.GetManifestByExternalID(ctx, dependsOnExternalID)
	if err != nil {
		return nil, fmt.Errorf("manifest: look up parent %q: %w", dependsOnExternalID, err)
	}
	if parent == nil {
		return nil, &ErrMissingParent{ParentExternalID: dependsOnExternalID}
	}

	edges, err := s.store.ParentChildEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: load dependency edges: %w", err)
	}
	if dag.WouldCycle(edges, externalID, dependsOnExternalID) {
		return nil, fmt.Errorf("manifest: %w: %s -> %s", domain.ErrCyclicDependency, externalID, dependsOnExternalID)
	}

	groupID, err := s.store.EnsureGroup(ctx, opts.GroupName, opts.GroupPriority, opts.GroupMaxActive)
	if err != nil {
		return nil, fmt.Errorf("manifest: ensure group %q: %w", opts.GroupName, err)
	}

	m, err := s.buildManifest(externalID, workflowName, input, schedule.Schedule{}, opts, groupID, &parent.ID)
	if err != nil {
		return nil, err
	}
	m.ScheduleType = domain.ScheduleDependent

	return s.store.UpsertManifest(ctx, *m)
}

// ScheduleManyAsync atomically upserts a batch of manifests in one group,
// optionally pruning any pre-existing manifest in that group whose
// ExternalID starts with prunePrefix but is absent from items.
func (s *Scheduler) ScheduleManyAsync(ctx context.Context, items []ManifestSpec, groupName, prunePrefix string) ([]domain.Manifest, error) {
	built := make([]domain.Manifest, 0, len(items))
	for _, item := range items {
		if _, ok := s.registry.InputTypeName(item.WorkflowName); !ok {
			return nil, &ErrUnregisteredWorkflow{WorkflowName: item.WorkflowName}
		}
		m, err := s.buildManifest(item.ExternalID, item.WorkflowName, item.Input, item.Schedule, item.Options, "", nil)
		if err != nil {
			return nil, err
		}
		built = append(built, *m)
	}

	return s.store.BatchUpsertAndPrune(ctx, built, prunePrefix, groupName)
}

// ManifestSpec is one entry in a ScheduleManyAsync batch.
type ManifestSpec struct {
	ExternalID   string
	WorkflowName string
	Input        []byte
	Schedule     schedule.Schedule
	Options      ScheduleOptions
}

// DisableAsync flips IsEnabled to false for the manifest with externalID.
func (s *Scheduler) DisableAsync(ctx context.Context, externalID string) error {
	return s.store.SetEnabled(ctx, externalID, false)
}

// EnableAsync flips IsEnabled to true for the manifest with externalID.
func (s *Scheduler) EnableAsync(ctx context.Context, externalID string) error {
	return s.store.SetEnabled(ctx, externalID, true)
}

// TriggerAsync creates an immediate work_queue row using the manifest's
// stored priority (no dependent boost). It bypasses the due-time check
// but not the admission caps — see DESIGN.md Open Question 1.
func (s *Scheduler) TriggerAsync(ctx context.Context, externalID string) error {
	m, err := s.store.GetManifestByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("manifest: look up %q: %w", externalID, err)
	}
	if m == nil {
		return fmt.Errorf("manifest: %w: %s", domain.ErrNotFound, externalID)
	}
	return s.store.CreateTriggerWorkQueueEntry(ctx, *m)
}

func (s *Scheduler) buildManifest(externalID, workflowName string, input []byte, sched schedule.Schedule, opts ScheduleOptions, groupID string, parentID *string) (*domain.Manifest, error) {
	if opts.Priority == 0 {
		opts.Priority = DefaultScheduleOptions().Priority
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultScheduleOptions().MaxRetries
	}

	m := &domain.Manifest{
		ID:               uuid.NewString(),
		ExternalID:       externalID,
		WorkflowTypeName: workflowName,
		InputTypeName:    opts.InputTypeName,
		Input:            input,
		IsEnabled:        true,
		IsDormant:        opts.IsDormant,
		MaxRetries:       opts.MaxRetries,
		TimeoutSeconds:   opts.TimeoutSeconds,
		Priority:         domain.ClampPriority(opts.Priority),
		GroupID:          groupID,
		ParentManifestID: parentID,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if parentID != nil {
		m.ScheduleType = domain.ScheduleDependent
		return m, nil
	}

	switch sched.Kind {
	case schedule.KindCron:
		if _, err := schedule.ParseCron(sched.CronExpr); err != nil {
			return nil, err
		}
		m.ScheduleType = domain.ScheduleCron
		m.CronExpression = ptr.To(sched.CronExpr)
	case schedule.KindInterval:
		m.ScheduleType = domain.ScheduleInterval
		m.IntervalSeconds = ptr.To(int(sched.Interval.Seconds()))
	default:
		m.ScheduleType = domain.ScheduleOnDemand
	}

	if !m.IsDependentWellFormed() {
		return nil, fmt.Errorf("manifest: %w: dependent manifest %q missing parent", domain.ErrInvalidManifest, externalID)
	}

	return m, nil
}
