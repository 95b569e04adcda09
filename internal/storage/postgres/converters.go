package postgres

import (
	"encoding/json"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
)

// nullTime converts a *time.Time into a value pgx can bind, matching the
// teacher's timeToTimestamptz/timestamptzToTime pairing but using plain
// *time.Time since this schema uses timestamptz columns directly rather
// than pgtype.Timestamptz.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func rawMessageOrEmpty(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}

// manifestRow mirrors the column order used by every SELECT ... FROM
// manifest query in this package, so scanning stays in one place.
type manifestRow struct {
	ID                string
	ExternalID        string
	WorkflowTypeName  string
	InputTypeName     string
	Input             []byte
	ScheduleType      string
	CronExpression    *string
	IntervalSeconds   *int
	IsEnabled         bool
	IsDormant         bool
	MaxRetries        int
	TimeoutSeconds    *int
	Priority          int
	GroupID           string
	ParentManifestID  *string
	LastSuccessfulRun *time.Time
	LastScheduledAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r manifestRow) toDomain() domain.Manifest {
	return domain.Manifest{
		ID:                r.ID,
		ExternalID:        r.ExternalID,
		WorkflowTypeName:  r.WorkflowTypeName,
		InputTypeName:     r.InputTypeName,
		Input:             rawMessageOrEmpty(r.Input),
		ScheduleType:      domain.ScheduleType(r.ScheduleType),
		CronExpression:    r.CronExpression,
		IntervalSeconds:   r.IntervalSeconds,
		IsEnabled:         r.IsEnabled,
		IsDormant:         r.IsDormant,
		MaxRetries:        r.MaxRetries,
		TimeoutSeconds:    r.TimeoutSeconds,
		Priority:          r.Priority,
		GroupID:           r.GroupID,
		ParentManifestID:  r.ParentManifestID,
		LastSuccessfulRun: r.LastSuccessfulRun,
		LastScheduledAt:   r.LastScheduledAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

const manifestColumns = `id, external_id, workflow_type_name, input_type_name, input,
	schedule_type, cron_expression, interval_seconds, is_enabled, is_dormant,
	max_retries, timeout_seconds, priority, manifest_group_id, parent_manifest_id,
	last_successful_run, last_scheduled_at, created_at, updated_at`

func scanManifest(row pgxRow) (domain.Manifest, error) {
	var r manifestRow
	err := row.Scan(&r.ID, &r.ExternalID, &r.WorkflowTypeName, &r.InputTypeName, &r.Input,
		&r.ScheduleType, &r.CronExpression, &r.IntervalSeconds, &r.IsEnabled, &r.IsDormant,
		&r.MaxRetries, &r.TimeoutSeconds, &r.Priority, &r.GroupID, &r.ParentManifestID,
		&r.LastSuccessfulRun, &r.LastScheduledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Manifest{}, err
	}
	return r.toDomain(), nil
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows, letting scanManifest
// serve both QueryRow and Query call sites.
type pgxRow interface {
	Scan(dest ...any) error
}

type metadataRow struct {
	ID                    string
	ExternalID            string
	ManifestID            *string
	WorkflowName          string
	Input                 []byte
	Output                []byte
	State                 string
	ScheduledTime         *time.Time
	StartedAt             *time.Time
	EndedAt               *time.Time
	RetryCount            int
	CurrentlyRunningStep  *string
	CancellationRequested bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (r metadataRow) toDomain() domain.Metadata {
	return domain.Metadata{
		ID:                    r.ID,
		ExternalID:            r.ExternalID,
		ManifestID:            r.ManifestID,
		WorkflowName:          r.WorkflowName,
		Input:                 rawMessageOrEmpty(r.Input),
		Output:                json.RawMessage(r.Output),
		State:                 domain.MetadataState(r.State),
		ScheduledTime:         r.ScheduledTime,
		StartedAt:             r.StartedAt,
		EndedAt:               r.EndedAt,
		RetryCount:            r.RetryCount,
		CurrentlyRunningStep:  r.CurrentlyRunningStep,
		CancellationRequested: r.CancellationRequested,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

const metadataColumns = `id, external_id, manifest_id, workflow_name, input, output,
	state, scheduled_time, started_at, ended_at, retry_count, currently_running_step,
	cancellation_requested, created_at, updated_at`

func scanMetadata(row pgxRow) (domain.Metadata, error) {
	var r metadataRow
	err := row.Scan(&r.ID, &r.ExternalID, &r.ManifestID, &r.WorkflowName, &r.Input, &r.Output,
		&r.State, &r.ScheduledTime, &r.StartedAt, &r.EndedAt, &r.RetryCount, &r.CurrentlyRunningStep,
		&r.CancellationRequested, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Metadata{}, err
	}
	return r.toDomain(), nil
}
