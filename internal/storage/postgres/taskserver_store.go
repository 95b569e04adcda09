package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/schedcore/schedcore/internal/taskserver"
)

// Enqueue inserts an unclaimed background_job row.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (string, error) {
	return s.enqueueJob(ctx, payload)
}

func (s *Store) enqueueJob(ctx context.Context, payload json.RawMessage) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO background_job (id, payload, available_at)
		VALUES ($1, $2, now())`, id, []byte(payload))
	if err != nil {
		return "", fmt.Errorf("postgres: enqueue job: %w", err)
	}
	return id, nil
}

// Claim atomically claims the next available or stuck job via
// SELECT ... FOR UPDATE SKIP LOCKED, stamping fetched_at/available_at.
func (s *Store) Claim(ctx context.Context, visibilityTimeout time.Duration) (*taskserver.Job, error) {
	pool := s.Pool()
	if pool == nil {
		return nil, fmt.Errorf("postgres: Claim requires a pool-backed Store")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, payload FROM background_job
		WHERE available_at <= now()
		ORDER BY available_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`)

	var job taskserver.Job
	var payload []byte
	if err := row.Scan(&job.ID, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: claim job: %w", err)
	}
	job.Payload = json.RawMessage(payload)

	newAvailableAt := time.Now().UTC().Add(visibilityTimeout)
	if _, err := tx.Exec(ctx, `UPDATE background_job SET fetched_at = now(), available_at = $1 WHERE id = $2`, newAvailableAt, job.ID); err != nil {
		return nil, fmt.Errorf("postgres: stamp claimed job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit claim: %w", err)
	}

	return &job, nil
}

// Heartbeat extends a claimed job's visibility window.
func (s *Store) Heartbeat(ctx context.Context, jobID string, visibilityTimeout time.Duration) error {
	newAvailableAt := time.Now().UTC().Add(visibilityTimeout)
	tag, err := s.pool.Exec(ctx, `UPDATE background_job SET available_at = $1 WHERE id = $2`, newAvailableAt, jobID)
	if err != nil {
		return fmt.Errorf("postgres: heartbeat job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: heartbeat job %s: %w", jobID, pgx.ErrNoRows)
	}
	return nil
}

// Complete deletes the job row.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM background_job WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("postgres: complete job %s: %w", jobID, err)
	}
	return nil
}
