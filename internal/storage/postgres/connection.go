// Package postgres implements the coordinator's Store and TaskServer
// contracts against PostgreSQL, using pgx/v5 directly (the retrieval pack
// carries no sqlc-generated code to build on) with the same
// transaction-wrapper and connection-pool-sizing idiom as the teacher's
// persistence layer.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for goose's database/sql handle
	_ "github.com/lib/pq"              // registers "postgres" driver for the sqladmin handle
	"github.com/pressly/goose/v3"
	"github.com/schedcore/schedcore/internal/storage/sqladmin"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DBConfig holds PostgreSQL connection configuration.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int           // 0 = auto-scale based on available CPUs
	MaxIdleConns    int           // 0 = auto-scale based on available CPUs
	ConnMaxLifetime time.Duration // 0 = default 5min
	ConnMaxIdleTime time.Duration // 0 = default 1min
	AutoMigrate     bool
}

// NewStoreWithConfig runs migrations (if AutoMigrate) and opens a pooled
// Store.
func NewStoreWithConfig(ctx context.Context, cfg DBConfig) (*Store, error) {
	if cfg.AutoMigrate {
		if err := runMigrationsWithDSN(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("postgres: run migrations: %w", err)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}

	maxConns := int32(cfg.MaxOpenConns)
	if maxConns <= 0 {
		maxConns = int32(runtime.GOMAXPROCS(0) * 4)
	}
	minConns := int32(cfg.MaxIdleConns)
	if minConns <= 0 {
		minConns = int32(runtime.GOMAXPROCS(0))
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = time.Minute
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = connMaxLifetime
	poolConfig.MaxConnIdleTime = connMaxIdleTime
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIMEZONE='UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	admin, err := sqladmin.Open(cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: open admin handle: %w", err)
	}

	return &Store{pool: pool, admin: admin}, nil
}

// runMigrationsWithDSN applies embedded goose migrations using a
// short-lived database/sql handle (goose does not speak pgxpool).
func runMigrationsWithDSN(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migration connection: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
