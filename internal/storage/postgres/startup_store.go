package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/schedcore/schedcore/internal/storage/sqladmin"
)

// TryAcquireExclusiveRun acquires a lease row in cron_job_leases, refusing
// if another holder's lease has not yet expired. Grounded on the
// teacher's TryAcquireLease/ReleaseLease pair.
func (s *Store) TryAcquireExclusiveRun(ctx context.Context, runTypeName, holderID string, leaseDuration time.Duration) (func(), bool, error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO cron_job_leases (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE SET holder_id = $2, expires_at = $3
		WHERE cron_job_leases.expires_at < now()
		RETURNING holder_id`,
		runTypeName, holderID, expiresAt)

	var gotHolder string
	if err := row.Scan(&gotHolder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: acquire lease %s: %w", runTypeName, err)
	}
	if gotHolder != holderID {
		return nil, false, nil
	}

	release := func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM cron_job_leases WHERE run_type = $1 AND holder_id = $2`, runTypeName, holderID)
	}
	return release, true, nil
}

// PruneOrphanGroups deletes every ManifestGroup with no referencing
// manifest. Runs over the sqlx/lib-pq admin handle alongside
// PurgeTerminalMetadata, since this too is a boot-time maintenance
// statement rather than part of the hot dispatch path.
func (s *Store) PruneOrphanGroups(ctx context.Context) (int, error) {
	if s.admin == nil {
		return 0, fmt.Errorf("postgres: prune orphan groups: admin handle not configured")
	}
	n, err := sqladmin.PruneOrphanGroups(ctx, s.admin)
	if err != nil {
		return 0, fmt.Errorf("postgres: %w", err)
	}
	return int(n), nil
}

// RecoverStuckMetadata marks InProgress metadata stuck past the smaller of
// its owning manifest's TimeoutSeconds or defaultTimeout as
// Failed("recovered on startup"), then applies the normal retry policy
// via FailAndMaybeRetry/DeadLetter for each.
func (s *Store) RecoverStuckMetadata(ctx context.Context, defaultTimeout time.Duration) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT md.id, md.started_at, m.timeout_seconds
		FROM metadata md
		LEFT JOIN manifest m ON m.id = md.manifest_id
		WHERE md.state = 'in_progress' AND md.started_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("postgres: list in-progress metadata: %w", err)
	}

	type stuckRow struct {
		id             string
		startedAt      time.Time
		timeoutSeconds *int
	}
	var candidates []stuckRow
	for rows.Next() {
		var r stuckRow
		if err := rows.Scan(&r.id, &r.startedAt, &r.timeoutSeconds); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	recovered := 0
	for _, c := range candidates {
		window := defaultTimeout
		if c.timeoutSeconds != nil {
			manifestTimeout := time.Duration(*c.timeoutSeconds) * time.Second
			if manifestTimeout < window {
				window = manifestTimeout
			}
		}
		if now.Sub(c.startedAt) <= window {
			continue
		}

		willRetry, err := s.FailAndMaybeRetry(ctx, c.id, "recovered on startup", now, 0)
		if err != nil {
			return recovered, fmt.Errorf("postgres: recover stuck metadata %s: %w", c.id, err)
		}
		recovered++

		if !willRetry {
			var manifestID *string
			row := s.pool.QueryRow(ctx, `SELECT manifest_id FROM metadata WHERE id = $1`, c.id)
			if err := row.Scan(&manifestID); err == nil && manifestID != nil {
				var retryCount int
				_ = s.pool.QueryRow(ctx, `SELECT retry_count FROM metadata WHERE id = $1`, c.id).Scan(&retryCount)
				if err := s.DeadLetter(ctx, *manifestID, "recovered on startup", retryCount); err != nil {
					return recovered, fmt.Errorf("postgres: dead letter recovered metadata %s: %w", c.id, err)
				}
			}
		}
	}
	return recovered, nil
}
