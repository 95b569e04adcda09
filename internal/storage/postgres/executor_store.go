package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/schedcore/schedcore/internal/domain"
)

// GetMetadata loads one metadata row by ID.
func (s *Store) GetMetadata(ctx context.Context, id string) (*domain.Metadata, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+metadataColumns+` FROM metadata WHERE id = $1`, id)
	m, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get metadata %s: %w", id, err)
	}
	return &m, nil
}

// GetManifest loads the manifest a metadata row was dispatched from.
func (s *Store) GetManifest(ctx context.Context, id string) (*domain.Manifest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+manifestColumns+` FROM manifest WHERE id = $1`, id)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get manifest %s: %w", id, err)
	}
	return &m, nil
}

// BeginExecution CAS-transitions metadata Pending -> InProgress.
func (s *Store) BeginExecution(ctx context.Context, metadataID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE metadata SET state = 'in_progress', started_at = $1, updated_at = now()
		WHERE id = $2 AND state = 'pending'`, startedAt, metadataID)
	if err != nil {
		return fmt.Errorf("postgres: begin execution %s: %w", metadataID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotOwner
	}
	return nil
}

// IsCancellationRequested re-reads the cancellation flag.
func (s *Store) IsCancellationRequested(ctx context.Context, metadataID string) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT cancellation_requested FROM metadata WHERE id = $1`, metadataID)
	var requested bool
	if err := row.Scan(&requested); err != nil {
		return false, fmt.Errorf("postgres: is cancellation requested %s: %w", metadataID, err)
	}
	return requested, nil
}

// CompleteSuccess transitions metadata to Completed, stores output, and
// advances the owning manifest's LastSuccessfulRun.
func (s *Store) CompleteSuccess(ctx context.Context, metadataID string, output []byte, endedAt time.Time) error {
	return s.withTx(ctx, "complete_success", func(tx *Store) error {
		var manifestID *string
		row := tx.pool.QueryRow(ctx, `
			UPDATE metadata SET state = 'completed', output = $1, ended_at = $2, updated_at = now()
			WHERE id = $3
			RETURNING manifest_id`, output, endedAt, metadataID)
		if err := row.Scan(&manifestID); err != nil {
			return fmt.Errorf("complete metadata %s: %w", metadataID, err)
		}

		if manifestID != nil {
			if _, err := tx.pool.Exec(ctx, `UPDATE manifest SET last_successful_run = $1, updated_at = now() WHERE id = $2`, endedAt, *manifestID); err != nil {
				return fmt.Errorf("stamp last_successful_run: %w", err)
			}
		}
		return nil
	})
}

// CompleteCancelled transitions metadata to Cancelled.
func (s *Store) CompleteCancelled(ctx context.Context, metadataID string, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE metadata SET state = 'cancelled', ended_at = $1, updated_at = now()
		WHERE id = $2`, endedAt, metadataID)
	if err != nil {
		return fmt.Errorf("postgres: complete cancelled %s: %w", metadataID, err)
	}
	return nil
}

// FailAndMaybeRetry transitions metadata to Failed and, if retries remain,
// atomically creates a new Queued work_queue row for a retry attempt.
func (s *Store) FailAndMaybeRetry(ctx context.Context, metadataID string, reason string, endedAt time.Time, retryDelay time.Duration) (willRetry bool, err error) {
	err = s.withTx(ctx, "fail_and_maybe_retry", func(tx *Store) error {
		var manifestID *string
		var retryCount int
		row := tx.pool.QueryRow(ctx, `
			UPDATE metadata SET state = 'failed', ended_at = $1, updated_at = now()
			WHERE id = $2
			RETURNING manifest_id, retry_count`, endedAt, metadataID)
		if err := row.Scan(&manifestID, &retryCount); err != nil {
			return fmt.Errorf("fail metadata %s: %w", metadataID, err)
		}

		if manifestID == nil {
			willRetry = false
			return nil
		}

		var externalID, workflowName, inputTypeName string
		var input []byte
		var priority, maxRetries int
		mrow := tx.pool.QueryRow(ctx, `
			SELECT external_id, workflow_type_name, input, input_type_name, priority, max_retries
			FROM manifest WHERE id = $1`, *manifestID)
		if err := mrow.Scan(&externalID, &workflowName, &input, &inputTypeName, &priority, &maxRetries); err != nil {
			return fmt.Errorf("load manifest for retry: %w", err)
		}

		if retryCount >= maxRetries {
			willRetry = false
			return nil
		}

		nextRetryCount := retryCount + 1
		scheduledFor := time.Now().UTC().Add(retryDelay)
		_, err := tx.pool.Exec(ctx, `
			INSERT INTO work_queue (id, external_id, workflow_name, input, input_type_name,
				manifest_id, priority, is_dependent, retry_count, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, 'queued', $9)`,
			uuid.NewString(), externalID+":retry:"+uuid.NewString(), workflowName, input, inputTypeName,
			*manifestID, priority, nextRetryCount, scheduledFor)
		if err != nil {
			return fmt.Errorf("insert retry work queue row: %w", err)
		}

		if _, err := tx.pool.Exec(ctx, `UPDATE metadata SET retry_count = $1 WHERE id = $2`, nextRetryCount, metadataID); err != nil {
			return fmt.Errorf("increment retry count: %w", err)
		}

		willRetry = true
		return nil
	})
	return willRetry, err
}

// DeadLetter creates a DeadLetter row for an exhausted/permanently failed
// manifest execution.
func (s *Store) DeadLetter(ctx context.Context, manifestID, reason string, retryCountAtDeadLetter int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter (id, manifest_id, reason, retry_count_at_dead_letter, status)
		VALUES ($1, $2, $3, $4, 'awaiting_intervention')`,
		uuid.NewString(), manifestID, reason, retryCountAtDeadLetter)
	if err != nil {
		return fmt.Errorf("postgres: dead letter manifest %s: %w", manifestID, err)
	}
	return nil
}
