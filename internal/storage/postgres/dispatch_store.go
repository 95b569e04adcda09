package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/schedcore/schedcore/internal/dispatch"
	"github.com/schedcore/schedcore/internal/taskserver"
)

// QueuedCandidates returns every Queued work_queue row whose owning
// manifest and group are enabled and whose created_at has arrived (a
// retry row carries its backoff-delayed time there), along with the
// configured caps and currently-active counts needed to run the
// admission algebra.
func (s *Store) QueuedCandidates(ctx context.Context) ([]dispatch.Candidate, dispatch.AdmissionCaps, int, map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wq.id, g.name, wq.priority, wq.created_at, wq.is_dependent
		FROM work_queue wq
		LEFT JOIN manifest m ON m.id = wq.manifest_id
		LEFT JOIN manifest_group g ON g.id = m.manifest_group_id
		WHERE wq.status = 'queued'
		  AND wq.created_at <= now()
		  AND (m.id IS NULL OR (m.is_enabled AND g.is_enabled))
		ORDER BY wq.priority DESC, wq.created_at ASC`)
	if err != nil {
		return nil, dispatch.AdmissionCaps{}, 0, nil, fmt.Errorf("postgres: queued candidates: %w", err)
	}
	defer rows.Close()

	var cands []dispatch.Candidate
	for rows.Next() {
		var c dispatch.Candidate
		var groupName *string
		if err := rows.Scan(&c.WorkQueueID, &groupName, &c.Priority, &c.CreatedAt, &c.IsDependent); err != nil {
			return nil, dispatch.AdmissionCaps{}, 0, nil, err
		}
		if groupName != nil {
			c.GroupName = *groupName
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dispatch.AdmissionCaps{}, 0, nil, err
	}

	groupCaps, err := s.groupCaps(ctx)
	if err != nil {
		return nil, dispatch.AdmissionCaps{}, 0, nil, err
	}

	globalActive, groupActive, err := s.activeCounts(ctx)
	if err != nil {
		return nil, dispatch.AdmissionCaps{}, 0, nil, err
	}

	return cands, dispatch.AdmissionCaps{GlobalCap: 0, GroupCaps: groupCaps}, globalActive, groupActive, nil
}

func (s *Store) groupCaps(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, max_active_jobs FROM manifest_group WHERE max_active_jobs IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres: group caps: %w", err)
	}
	defer rows.Close()

	caps := make(map[string]int)
	for rows.Next() {
		var name string
		var cap int
		if err := rows.Scan(&name, &cap); err != nil {
			return nil, err
		}
		caps[name] = cap
	}
	return caps, rows.Err()
}

// activeCounts reports how many metadata rows are currently Pending or
// InProgress, globally and per owning group.
func (s *Store) activeCounts(ctx context.Context) (int, map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.name, count(*)
		FROM metadata md
		LEFT JOIN manifest m ON m.id = md.manifest_id
		LEFT JOIN manifest_group g ON g.id = m.manifest_group_id
		WHERE md.state IN ('pending', 'in_progress')
		GROUP BY g.name`)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: active counts: %w", err)
	}
	defer rows.Close()

	group := make(map[string]int)
	total := 0
	for rows.Next() {
		var name *string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return 0, nil, err
		}
		total += count
		if name != nil {
			group[*name] = count
		}
	}
	return total, group, rows.Err()
}

// DispatchBatch transitions the given work_queue IDs to Dispatched,
// creates a Pending metadata row for each, and enqueues a background_job
// referencing that metadata, all in one transaction.
func (s *Store) DispatchBatch(ctx context.Context, workQueueIDs []string) error {
	if len(workQueueIDs) == 0 {
		return nil
	}

	return s.withTx(ctx, "dispatch_batch", func(tx *Store) error {
		for _, id := range workQueueIDs {
			var externalID, workflowName, inputTypeName string
			var input []byte
			var manifestID *string
			var retryCount int
			row := tx.pool.QueryRow(ctx, `
				SELECT external_id, workflow_name, input, input_type_name, manifest_id, retry_count
				FROM work_queue WHERE id = $1 AND status = 'queued'`, id)
			if err := row.Scan(&externalID, &workflowName, &input, &inputTypeName, &manifestID, &retryCount); err != nil {
				return fmt.Errorf("load work queue row %s: %w", id, err)
			}

			metadataID := uuid.NewString()
			_, err := tx.pool.Exec(ctx, `
				INSERT INTO metadata (id, external_id, manifest_id, workflow_name, input, state, scheduled_time, retry_count)
				VALUES ($1, $2, $3, $4, $5, 'pending', now(), $6)`,
				metadataID, externalID, manifestID, workflowName, input, retryCount)
			if err != nil {
				return fmt.Errorf("insert metadata for %s: %w", id, err)
			}

			_, err = tx.pool.Exec(ctx, `
				UPDATE work_queue SET status = 'dispatched', metadata_id = $1, dispatched_at = now()
				WHERE id = $2`, metadataID, id)
			if err != nil {
				return fmt.Errorf("mark dispatched %s: %w", id, err)
			}

			payload, err := json.Marshal(taskserver.Payload{MetadataID: metadataID})
			if err != nil {
				return fmt.Errorf("marshal task payload: %w", err)
			}
			if _, err := tx.enqueueJob(ctx, payload); err != nil {
				return fmt.Errorf("enqueue background job for %s: %w", id, err)
			}
		}
		return nil
	})
}
