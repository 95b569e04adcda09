package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/schedcore/schedcore/internal/cleanup"
	"github.com/schedcore/schedcore/internal/dispatch"
	"github.com/schedcore/schedcore/internal/executor"
	"github.com/schedcore/schedcore/internal/manifest"
	"github.com/schedcore/schedcore/internal/startup"
	"github.com/schedcore/schedcore/internal/taskserver"
)

// Store is the single PostgreSQL-backed implementation of every
// consumer-owned store interface in this module: manifest.SchedulerStore,
// manifest.ManagerStore, dispatch.Store, executor.Store, plus the
// Postgres-backed TaskServer. Co-locating TaskServer here lets
// DispatchBatch enqueue a background_job in the same transaction as its
// work_queue/metadata mutation (SPEC §4.6's atomicity requirement).
type Store struct {
	pool querier
	// admin is a parallel sqlx/lib-pq connection used only by the
	// low-traffic maintenance queries in cleanup_store.go/startup_store.go
	// (PurgeTerminalMetadata, PruneOrphanGroups). It is nil on transaction-
	// scoped Store values returned by withTx, which never call those paths.
	admin *sqlx.DB
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// query method run either directly against the pool or inside a
// transaction without duplicating SQL.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time verification that Store implements every consumer-owned
// interface.
var (
	_ manifest.SchedulerStore = (*Store)(nil)
	_ manifest.ManagerStore   = (*Store)(nil)
	_ dispatch.Store          = (*Store)(nil)
	_ executor.Store          = (*Store)(nil)
	_ taskserver.TaskServer   = (*Store)(nil)
	_ startup.Store           = (*Store)(nil)
	_ cleanup.Store           = (*Store)(nil)
)

// NewStore wraps a ready connection pool. The admin sqlx handle is left
// nil; callers that need PurgeTerminalMetadata/PruneOrphanGroups should go
// through NewStoreWithConfig instead.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for callers needing raw access (tests,
// admin tooling).
func (s *Store) Pool() *pgxpool.Pool {
	p, _ := s.pool.(*pgxpool.Pool)
	return p
}

// Close closes the underlying pool and the admin sqlx handle, if set.
func (s *Store) Close() {
	if p := s.Pool(); p != nil {
		p.Close()
	}
	if s.admin != nil {
		_ = s.admin.Close()
	}
}

// withTx runs fn against a *Store backed by a transaction, committing on
// success and rolling back on error or panic — the same
// executeInTransaction/finalizeTx shape used throughout this codebase's
// teacher lineage.
func (s *Store) withTx(ctx context.Context, operation string, fn func(txStore *Store) error) (err error) {
	pool := s.Pool()
	if pool == nil {
		return fmt.Errorf("postgres: withTx called on a non-pool-backed Store")
	}

	start := time.Now()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transaction for %s: %w", operation, err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.ErrorContext(ctx, "rollback after panic failed", "operation", operation, "panic", p, "rollback_error", rbErr)
			}
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				slog.ErrorContext(ctx, "rollback failed", "operation", operation, "original_error", err, "rollback_error", rbErr)
				err = fmt.Errorf("%s failed: %w (rollback error: %v)", operation, err, rbErr)
			}
			return
		}

		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("postgres: commit %s: %w", operation, cErr)
			return
		}
		slog.DebugContext(ctx, "transaction committed", "operation", operation, "duration_ms", time.Since(start).Milliseconds())
	}()

	err = fn(&Store{pool: tx})
	return
}
