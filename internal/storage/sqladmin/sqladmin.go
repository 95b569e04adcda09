// Package sqladmin holds the handful of maintenance queries — MetadataCleanup's
// purge and StartupService's orphan-group prune — that run over a plain
// *sqlx.DB/lib/pq connection instead of the pgxpool the rest of the
// coordinator uses. The teacher's own internal/storage/sql package pairs
// sqlx with lib/pq the same way, alongside its primary pgx-backed store,
// for exactly this kind of low-traffic administrative SQL.
package sqladmin

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Open connects an *sqlx.DB through the lib/pq driver.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqladmin: connect: %w", err)
	}
	return db, nil
}

// PurgeTerminalMetadata deletes terminal metadata rows older than cutoff
// whose workflow name is in whitelist, passed as a single array parameter
// via pq.Array rather than expanding one placeholder per entry.
func PurgeTerminalMetadata(ctx context.Context, db *sqlx.DB, whitelist []string, cutoff time.Time) (int64, error) {
	if len(whitelist) == 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, `
		DELETE FROM metadata
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND ended_at IS NOT NULL AND ended_at < $1
		  AND workflow_name = ANY($2)`,
		cutoff, pq.Array(whitelist))
	if err != nil {
		return 0, fmt.Errorf("sqladmin: purge terminal metadata: %w", err)
	}
	return res.RowsAffected()
}

// PruneOrphanGroups deletes every manifest_group row with no referencing
// manifest, returning the count removed.
func PruneOrphanGroups(ctx context.Context, db *sqlx.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM manifest_group g
		WHERE NOT EXISTS (SELECT 1 FROM manifest m WHERE m.manifest_group_id = g.id)`)
	if err != nil {
		return 0, fmt.Errorf("sqladmin: prune orphan groups: %w", err)
	}
	return res.RowsAffected()
}
