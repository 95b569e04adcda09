// Command coordinator runs the scheduler's three cooperating poll
// workflows (ManifestManager, JobDispatcher, TaskServerExecutor) plus
// StartupService and MetadataCleanup as one long-running process,
// following the ticker-loop/signal-handling shape of the teacher's
// cmd/worker/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schedcore/schedcore/internal/cleanup"
	"github.com/schedcore/schedcore/internal/config"
	"github.com/schedcore/schedcore/internal/dispatch"
	"github.com/schedcore/schedcore/internal/executor"
	"github.com/schedcore/schedcore/internal/manifest"
	"github.com/schedcore/schedcore/internal/startup"
	"github.com/schedcore/schedcore/internal/storage/postgres"
	"github.com/schedcore/schedcore/internal/taskserver"
	"github.com/schedcore/schedcore/internal/workflowbus"
	"github.com/schedcore/schedcore/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.Observability.ServiceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown, "logger provider")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, cfg.Observability.ServiceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown, "tracer provider")

	mp, err := observability.InitMeterProvider(ctx, cfg.Observability.ServiceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown, "meter provider")

	slog.InfoContext(ctx, "starting coordinator",
		"holder_id", cfg.Startup.HolderID, "log_level", cfg.Observability.ResolvedLogLevel())

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		AutoMigrate:     cfg.Postgres.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer store.Close()

	registry := workflowbus.NewRegistry()
	registerWorkflows(registry)

	startupSvc := startup.New(store, nil, startup.Config{
		HolderID:                   cfg.Startup.HolderID,
		LeaseDuration:              cfg.Startup.LeaseDuration,
		MaxStartupJitter:           cfg.Startup.MaxStartupJitter,
		RecoverStuckJobsOnStartup:  cfg.Startup.RecoverStuckJobsOnStartup,
		DefaultStuckMetadataWindow: cfg.Startup.StuckMetadataWindow,
	})
	if err := startupSvc.Run(ctx); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}

	manager := manifest.NewManager(store, manifest.ManagerConfig{
		PollingInterval: cfg.Manager.PollingInterval,
	})

	dispatcher := dispatch.NewDispatcher(store, dispatch.Config{
		PollingInterval:        cfg.Dispatch.PollingInterval,
		DependentPriorityBoost: cfg.Dispatch.DependentPriorityBoost,
		GlobalActiveJobCap:     cfg.Dispatch.GlobalActiveJobCap,
	})

	exec := executor.New(store, registry, executor.DefaultConfig())

	workerPool := taskserver.NewPool(store, exec, taskserver.Config{
		Workers:           cfg.TaskServer.Workers,
		PollInterval:      cfg.TaskServer.PollInterval,
		VisibilityTimeout: cfg.TaskServer.VisibilityTimeout,
		ShutdownTimeout:   cfg.TaskServer.ShutdownTimeout,
	})

	cleaner := cleanup.New(store, cleanup.Config{
		PollingInterval: cfg.Cleanup.PollingInterval,
		Retention:       cfg.Cleanup.Retention,
		Whitelist:       cfg.Cleanup.WhitelistNames(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { manager.Run(gctx); return nil })
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { workerPool.Run(gctx); return nil })
	g.Go(func() error { cleaner.Run(gctx); return nil })

	slog.InfoContext(ctx, "coordinator running",
		"workers", cfg.TaskServer.Workers,
		"manager_interval", cfg.Manager.PollingInterval,
		"dispatch_interval", cfg.Dispatch.PollingInterval)

	<-gctx.Done()
	slog.InfoContext(ctx, "shutdown signal received, draining in-flight work")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

// registerWorkflows is the seam where a consuming application registers
// its WorkflowBus handlers. This binary ships no workflows of its own —
// the workflow engine and effect-provider registry are external
// collaborators per spec.md §1 — so it registers none.
func registerWorkflows(_ *workflowbus.Registry) {}

func shutdownWithTimeout(shutdown func(context.Context) error, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "shutdown failed", "component", what, "error", err)
	}
}
