package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/schedcore/schedcore/internal/domain"
	"github.com/schedcore/schedcore/internal/schedule"
)

// UpsertManifest inserts or updates a manifest by ExternalID, preserving
// LastSuccessfulRun/LastScheduledAt on update (those fields are
// bookkeeping the scheduler owns, not the caller).
func (s *Store) UpsertManifest(ctx context.Context, m domain.Manifest) (*domain.Manifest, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO manifest (id, external_id, workflow_type_name, input_type_name, input,
			schedule_type, cron_expression, interval_seconds, is_enabled, is_dormant,
			max_retries, timeout_seconds, priority, manifest_group_id, parent_manifest_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_id) DO UPDATE SET
			workflow_type_name = EXCLUDED.workflow_type_name,
			input_type_name    = EXCLUDED.input_type_name,
			input              = EXCLUDED.input,
			schedule_type      = EXCLUDED.schedule_type,
			cron_expression    = EXCLUDED.cron_expression,
			interval_seconds   = EXCLUDED.interval_seconds,
			is_enabled         = EXCLUDED.is_enabled,
			is_dormant         = EXCLUDED.is_dormant,
			max_retries        = EXCLUDED.max_retries,
			timeout_seconds    = EXCLUDED.timeout_seconds,
			priority           = EXCLUDED.priority,
			manifest_group_id  = EXCLUDED.manifest_group_id,
			parent_manifest_id = EXCLUDED.parent_manifest_id,
			updated_at         = now()
		RETURNING `+manifestColumns,
		m.ID, m.ExternalID, m.WorkflowTypeName, m.InputTypeName, []byte(m.Input),
		string(m.ScheduleType), m.CronExpression, m.IntervalSeconds, m.IsEnabled, m.IsDormant,
		m.MaxRetries, m.TimeoutSeconds, m.Priority, m.GroupID, m.ParentManifestID,
	)

	saved, err := scanManifest(row)
	if err != nil {
		return nil, fmt.Errorf("postgres: upsert manifest %s: %w", m.ExternalID, err)
	}
	return &saved, nil
}

// BatchUpsertAndPrune upserts every item and, if prunePrefix is non-empty,
// deletes manifests in groupName whose ExternalID has that prefix and is
// absent from items. Deletes cascade to dead_letter/work_queue via FK
// cleanup performed before the manifest row itself is removed, since
// those tables reference manifest without ON DELETE CASCADE.
func (s *Store) BatchUpsertAndPrune(ctx context.Context, items []domain.Manifest, prunePrefix, groupName string) ([]domain.Manifest, error) {
	var saved []domain.Manifest

	err := s.withTx(ctx, "batch_upsert_and_prune_manifests", func(tx *Store) error {
		keep := make(map[string]bool, len(items))
		for _, m := range items {
			got, err := tx.UpsertManifest(ctx, m)
			if err != nil {
				return err
			}
			saved = append(saved, *got)
			keep[m.ExternalID] = true
		}

		if prunePrefix == "" {
			return nil
		}

		rows, err := tx.pool.Query(ctx, `
			SELECT m.id, m.external_id FROM manifest m
			JOIN manifest_group g ON g.id = m.manifest_group_id
			WHERE g.name = $1 AND m.external_id LIKE $2`,
			groupName, prunePrefix+"%")
		if err != nil {
			return fmt.Errorf("list prunable manifests: %w", err)
		}

		var toPrune []string
		for rows.Next() {
			var id, externalID string
			if err := rows.Scan(&id, &externalID); err != nil {
				rows.Close()
				return err
			}
			if !keep[externalID] {
				toPrune = append(toPrune, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range toPrune {
			if err := tx.deleteManifestCascade(ctx, id); err != nil {
				return fmt.Errorf("prune manifest %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) deleteManifestCascade(ctx context.Context, manifestID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dead_letter WHERE manifest_id = $1`, manifestID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM work_queue WHERE manifest_id = $1`, manifestID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE manifest SET parent_manifest_id = NULL WHERE parent_manifest_id = $1`, manifestID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM manifest WHERE id = $1`, manifestID); err != nil {
		return err
	}
	return nil
}

// SetEnabled flips a manifest's IsEnabled flag by ExternalID.
func (s *Store) SetEnabled(ctx context.Context, externalID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE manifest SET is_enabled = $1, updated_at = now() WHERE external_id = $2`, enabled, externalID)
	if err != nil {
		return fmt.Errorf("postgres: set enabled for %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetManifestByExternalID looks up a manifest by its external id.
func (s *Store) GetManifestByExternalID(ctx context.Context, externalID string) (*domain.Manifest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+manifestColumns+` FROM manifest WHERE external_id = $1`, externalID)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get manifest %s: %w", externalID, err)
	}
	return &m, nil
}

// ParentChildEdges returns every (childExternalID -> parentExternalID)
// edge currently persisted.
func (s *Store) ParentChildEdges(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT child.external_id, parent.external_id
		FROM manifest child
		JOIN manifest parent ON parent.id = child.parent_manifest_id
		WHERE child.parent_manifest_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres: parent child edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string]string)
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, err
		}
		edges[child] = parent
	}
	return edges, rows.Err()
}

// EnsureGroup inserts a ManifestGroup if it does not already exist by
// name, returning its ID either way.
func (s *Store) EnsureGroup(ctx context.Context, name string, priority int, maxActiveJobs *int) (string, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO manifest_group (id, name, priority, max_active_jobs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET priority = manifest_group.priority
		RETURNING id`,
		uuid.NewString(), name, domain.ClampPriority(priority), nullInt(maxActiveJobs))

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("postgres: ensure group %s: %w", name, err)
	}
	return id, nil
}

// CreateTriggerWorkQueueEntry inserts a Queued work_queue row for an
// immediate manual trigger, bypassing the due-time check but not caps.
func (s *Store) CreateTriggerWorkQueueEntry(ctx context.Context, m domain.Manifest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_queue (id, external_id, workflow_name, input, input_type_name,
			manifest_id, priority, is_dependent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'queued')`,
		uuid.NewString(), m.ExternalID+":trigger:"+uuid.NewString(), m.WorkflowTypeName,
		[]byte(m.Input), m.InputTypeName, m.ID, m.Priority, false)
	if err != nil {
		return fmt.Errorf("postgres: create trigger work queue entry for %s: %w", m.ExternalID, err)
	}
	return nil
}

// ListDueManifests returns enabled manifests (in enabled groups) whose
// next fire time has arrived: Cron/Interval manifests due per their own
// schedule, and Dependent manifests whose parent has completed a
// successful run more recently than the dependent's own last run (SPEC
// §4.5(3)).
func (s *Store) ListDueManifests(ctx context.Context, now time.Time) ([]domain.Manifest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.external_id, m.workflow_type_name, m.input_type_name, m.input,
			m.schedule_type, m.cron_expression, m.interval_seconds, m.is_enabled, m.is_dormant,
			m.max_retries, m.timeout_seconds, m.priority, m.manifest_group_id, m.parent_manifest_id,
			m.last_successful_run, m.last_scheduled_at, m.created_at, m.updated_at,
			parent.last_successful_run
		FROM manifest m
		JOIN manifest_group g ON g.id = m.manifest_group_id
		LEFT JOIN manifest parent ON parent.id = m.parent_manifest_id
		WHERE m.is_enabled AND g.is_enabled AND NOT m.is_dormant
		  AND m.schedule_type IN ('cron', 'interval', 'dependent')`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candidate manifests: %w", err)
	}
	defer rows.Close()

	var due []domain.Manifest
	for rows.Next() {
		var r manifestRow
		var parentLastSuccessfulRun *time.Time
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.WorkflowTypeName, &r.InputTypeName, &r.Input,
			&r.ScheduleType, &r.CronExpression, &r.IntervalSeconds, &r.IsEnabled, &r.IsDormant,
			&r.MaxRetries, &r.TimeoutSeconds, &r.Priority, &r.GroupID, &r.ParentManifestID,
			&r.LastSuccessfulRun, &r.LastScheduledAt, &r.CreatedAt, &r.UpdatedAt,
			&parentLastSuccessfulRun); err != nil {
			return nil, err
		}
		m := r.toDomain()

		last := m.CreatedAt
		if m.LastScheduledAt != nil {
			last = *m.LastScheduledAt
		}

		isDue := false
		switch m.ScheduleType {
		case domain.ScheduleCron:
			if m.CronExpression != nil {
				isDue, err = schedule.DueCron(*m.CronExpression, last, now)
				if err != nil {
					continue
				}
			}
		case domain.ScheduleInterval:
			if m.IntervalSeconds != nil {
				// A never-scheduled interval manifest is due at once.
				var lastScheduled time.Time
				if m.LastScheduledAt != nil {
					lastScheduled = *m.LastScheduledAt
				}
				isDue = schedule.DueInterval(time.Duration(*m.IntervalSeconds)*time.Second, lastScheduled, now)
			}
		case domain.ScheduleDependent:
			if parentLastSuccessfulRun != nil {
				isDue = m.LastSuccessfulRun == nil || parentLastSuccessfulRun.After(*m.LastSuccessfulRun)
			}
		}

		if isDue {
			due = append(due, m)
		}
	}
	return due, rows.Err()
}

// HasLiveQueueEntry reports whether a Queued work_queue row already
// exists for this manifest.
func (s *Store) HasLiveQueueEntry(ctx context.Context, manifestID string) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM work_queue WHERE manifest_id = $1 AND status = 'queued')`, manifestID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: has live queue entry for %s: %w", manifestID, err)
	}
	return exists, nil
}

// EnqueueDue inserts a Queued work_queue row for a due manifest and stamps
// LastScheduledAt in the same transaction. Dependent manifests are
// stamped is_dependent so JobDispatcher applies the dependent priority
// boost (SPEC §4.5(3)/§9 Open Question 3).
func (s *Store) EnqueueDue(ctx context.Context, m domain.Manifest, now time.Time) error {
	return s.withTx(ctx, "enqueue_due_manifest", func(tx *Store) error {
		isDependent := m.ScheduleType == domain.ScheduleDependent
		_, err := tx.pool.Exec(ctx, `
			INSERT INTO work_queue (id, external_id, workflow_name, input, input_type_name,
				manifest_id, priority, is_dependent, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'queued')`,
			uuid.NewString(), fmt.Sprintf("%s:%d", m.ExternalID, now.UnixNano()), m.WorkflowTypeName,
			[]byte(m.Input), m.InputTypeName, m.ID, m.Priority, isDependent)
		if err != nil {
			return fmt.Errorf("insert work queue row: %w", err)
		}

		_, err = tx.pool.Exec(ctx, `UPDATE manifest SET last_scheduled_at = $1, updated_at = now() WHERE id = $2`, now, m.ID)
		if err != nil {
			return fmt.Errorf("stamp last_scheduled_at: %w", err)
		}
		return nil
	})
}
