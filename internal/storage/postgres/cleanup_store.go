package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/schedcore/schedcore/internal/storage/sqladmin"
)

// PurgeTerminalMetadata deletes terminal metadata rows whose EndedAt is
// older than cutoff and whose WorkflowName is in whitelist. Runs over the
// sqlx/lib-pq admin handle rather than the pgx pool: this purge is a
// low-frequency, non-transactional maintenance query, the same split the
// teacher keeps between its pgx-backed primary store and sqlx-backed
// internal/storage/sql helpers.
func (s *Store) PurgeTerminalMetadata(ctx context.Context, whitelist []string, cutoff time.Time) (int, error) {
	if s.admin == nil {
		return 0, fmt.Errorf("postgres: purge terminal metadata: admin handle not configured")
	}
	n, err := sqladmin.PurgeTerminalMetadata(ctx, s.admin, whitelist, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: %w", err)
	}
	return int(n), nil
}
