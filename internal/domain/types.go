// Package domain holds the persistent entities of the workflow scheduler:
// manifest groups, manifests, execution metadata, work-queue rows, dead
// letters, and background jobs. Types here are storage-agnostic; the
// postgres package maps them onto rows.
package domain

import (
	"encoding/json"
	"time"
)

// Priority bounds. Every persisted priority and every negotiated effective
// priority is clamped into this range.
const (
	MinPriority = 0
	MaxPriority = 31
)

// ClampPriority forces p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ScheduleType identifies how a Manifest is fired.
type ScheduleType string

const (
	ScheduleNone      ScheduleType = "none"
	ScheduleCron      ScheduleType = "cron"
	ScheduleInterval  ScheduleType = "interval"
	ScheduleOnDemand  ScheduleType = "on_demand"
	ScheduleDependent ScheduleType = "dependent"
)

// Valid reports whether s is one of the known schedule types.
func (s ScheduleType) Valid() bool {
	switch s {
	case ScheduleNone, ScheduleCron, ScheduleInterval, ScheduleOnDemand, ScheduleDependent:
		return true
	default:
		return false
	}
}

// MetadataState is the lifecycle state of a single execution attempt.
// Transitions only ever move Pending -> InProgress -> {Completed, Failed, Cancelled}.
type MetadataState string

const (
	MetadataPending    MetadataState = "pending"
	MetadataInProgress MetadataState = "in_progress"
	MetadataCompleted  MetadataState = "completed"
	MetadataFailed     MetadataState = "failed"
	MetadataCancelled  MetadataState = "cancelled"
)

func (s MetadataState) Valid() bool {
	switch s {
	case MetadataPending, MetadataInProgress, MetadataCompleted, MetadataFailed, MetadataCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state has no further transitions.
func (s MetadataState) IsTerminal() bool {
	switch s {
	case MetadataCompleted, MetadataFailed, MetadataCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a metadata row in this state counts against the
// active-jobs cap (Pending or InProgress).
func (s MetadataState) IsActive() bool {
	return s == MetadataPending || s == MetadataInProgress
}

// WorkQueueStatus is the lifecycle state of a work_queue row.
// Queued -> {Dispatched, Cancelled}; Dispatched is terminal.
type WorkQueueStatus string

const (
	WorkQueueQueued     WorkQueueStatus = "queued"
	WorkQueueDispatched WorkQueueStatus = "dispatched"
	WorkQueueCancelled  WorkQueueStatus = "cancelled"
)

func (s WorkQueueStatus) Valid() bool {
	switch s {
	case WorkQueueQueued, WorkQueueDispatched, WorkQueueCancelled:
		return true
	default:
		return false
	}
}

// DeadLetterStatus tracks manual resolution of a dead-lettered manifest run.
type DeadLetterStatus string

const (
	DeadLetterAwaitingIntervention DeadLetterStatus = "awaiting_intervention"
	DeadLetterAcknowledged         DeadLetterStatus = "acknowledged"
	DeadLetterRetried              DeadLetterStatus = "retried"
)

func (s DeadLetterStatus) Valid() bool {
	switch s {
	case DeadLetterAwaitingIntervention, DeadLetterAcknowledged, DeadLetterRetried:
		return true
	default:
		return false
	}
}

// ManifestGroup is a policy bucket: shared priority, concurrency cap, and
// kill switch for a set of manifests.
type ManifestGroup struct {
	ID            string
	Name          string
	Priority      int
	MaxActiveJobs *int // nil = unbounded
	IsEnabled     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectiveCap returns the group's concurrency cap, or 0 to mean unbounded.
func (g ManifestGroup) EffectiveCap() int {
	if g.MaxActiveJobs == nil {
		return 0
	}
	return *g.MaxActiveJobs
}

// Manifest is a persistent scheduled-job definition, upsertable by ExternalID.
type Manifest struct {
	ID               string
	ExternalID       string
	WorkflowTypeName string
	InputTypeName    string // discriminator recorded alongside the JSON payload
	Input            json.RawMessage

	ScheduleType    ScheduleType
	CronExpression  *string
	IntervalSeconds *int

	IsEnabled bool
	IsDormant bool

	MaxRetries       int
	TimeoutSeconds   *int
	Priority         int
	GroupID          string
	ParentManifestID *string

	// LastSuccessfulRun is monotonic and set only when a Completed metadata
	// row whose ManifestID matches this manifest finishes.
	LastSuccessfulRun *time.Time

	// LastScheduledAt records the last time ManifestManager emitted a
	// work-queue row for this manifest. It drives due-time computation for
	// Cron/Interval manifests independent of whether that run succeeded,
	// so a failing manifest does not fire on every poll tick.
	LastScheduledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDependentWellFormed checks invariant 4: a Dependent manifest has a
// parent and no cron/interval fields.
func (m Manifest) IsDependentWellFormed() bool {
	if m.ScheduleType != ScheduleDependent {
		return true
	}
	return m.ParentManifestID != nil && m.CronExpression == nil && m.IntervalSeconds == nil
}

// Metadata is one execution attempt of a manifest (or an ad-hoc trigger).
type Metadata struct {
	ID           string
	ExternalID   string
	ManifestID   *string
	WorkflowName string
	Input        json.RawMessage
	Output       json.RawMessage
	State        MetadataState

	ScheduledTime *time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time

	RetryCount            int
	CurrentlyRunningStep  *string
	CancellationRequested bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkQueueEntry is a request to dispatch one execution.
type WorkQueueEntry struct {
	ID            string
	ExternalID    string
	WorkflowName  string
	InputJSON     json.RawMessage
	InputTypeName string
	ManifestID    *string
	MetadataID    *string
	Priority      int
	IsDependent   bool
	Status        WorkQueueStatus
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// DeadLetter is a manifest execution that exhausted retries or hit a
// non-retryable error.
type DeadLetter struct {
	ID                     string
	ManifestID             string
	Reason                 string
	RetryCountAtDeadLetter int
	Status                 DeadLetterStatus
	ResolutionNote         *string
	RetryMetadataID        *string
	ResolvedAt             *time.Time
	CreatedAt              time.Time
}

// BackgroundJob is a task-server claim row. FetchedAt nil means unclaimed;
// AvailableAt governs the visibility timeout for crash recovery.
type BackgroundJob struct {
	ID          string
	Payload     json.RawMessage
	FetchedAt   *time.Time
	AvailableAt time.Time
	CreatedAt   time.Time
}
