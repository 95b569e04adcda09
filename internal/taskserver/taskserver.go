// Package taskserver defines the TaskServer contract (enqueue/claim/
// complete over background_job rows) and an N-worker poll-loop runner.
// The actual SKIP LOCKED claim lives in internal/storage/postgres, in the
// same package as Store, so JobDispatcher's enqueue can share a single
// transaction with its work_queue mutation.
package taskserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/schedcore/schedcore/internal/executor"
)

// Job is a claimed background_job row, opaque to the worker pool beyond
// its ID and payload; Executor decodes Payload to find the metadata row.
type Job struct {
	ID      string
	Payload json.RawMessage
}

// Payload is the JSON shape enqueued for every dispatched metadata row.
type Payload struct {
	MetadataID string `json:"metadataId"`
}

// TaskServer is the Postgres-backed background_job contract.
type TaskServer interface {
	// Enqueue inserts an unclaimed background_job row.
	Enqueue(ctx context.Context, payload json.RawMessage) (string, error)

	// Claim atomically claims the next available or stuck job via
	// SELECT ... FOR UPDATE SKIP LOCKED, stamping fetchedAt. Returns nil
	// if nothing is claimable.
	Claim(ctx context.Context, visibilityTimeout time.Duration) (*Job, error)

	// Heartbeat extends a claimed job's visibility window, used by the
	// executor to signal it is still alive mid-execution.
	Heartbeat(ctx context.Context, jobID string, visibilityTimeout time.Duration) error

	// Complete deletes the job row; both success and failure call this,
	// since the audit trail lives in metadata/dead_letter, not here.
	Complete(ctx context.Context, jobID string) error
}

// Executor runs one claimed job to completion.
type Executor interface {
	Run(ctx context.Context, jobID, metadataID string, heartbeater executor.Heartbeater) error
}

// heartbeatAdapter binds a TaskServer + fixed visibility timeout into the
// executor.Heartbeater interface Executor depends on.
type heartbeatAdapter struct {
	ts                TaskServer
	visibilityTimeout time.Duration
}

func (h heartbeatAdapter) Heartbeat(ctx context.Context, jobID string) error {
	return h.ts.Heartbeat(ctx, jobID, h.visibilityTimeout)
}

// Config controls the worker pool.
type Config struct {
	// Workers is the number of concurrent claim loops. Defaults to
	// runtime.NumCPU() when zero.
	Workers int
	// PollInterval is how long an idle worker sleeps after an empty claim.
	PollInterval time.Duration
	// VisibilityTimeout bounds how long a claimed job may run before
	// another worker is allowed to reclaim it (crash recovery).
	VisibilityTimeout time.Duration
	// ShutdownTimeout bounds how long Run waits for in-flight jobs to
	// finish once its context is cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane defaults, sized to the host like the
// teacher's worker pool defaults (concurrency = 10) adapted here to scale
// with available CPUs since this process runs one worker pool per
// replica rather than a fixed constant.
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.NumCPU(),
		PollInterval:      time.Second,
		VisibilityTimeout: 5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Pool runs Config.Workers concurrent claim loops against a TaskServer,
// invoking Executor synchronously on every claimed job.
type Pool struct {
	ts       TaskServer
	executor Executor
	cfg      Config
}

// NewPool builds a Pool.
func NewPool(ts TaskServer, executor Executor, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Pool{ts: ts, executor: executor, cfg: cfg}
}

// Run blocks, running Config.Workers claim loops until ctx is cancelled.
// On cancellation, each worker finishes its in-flight job (bounded by
// ShutdownTimeout) before Run returns.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			p.workerLoop(ctx, workerNum)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.ts.Claim(ctx, p.cfg.VisibilityTimeout)
		if err != nil {
			slog.ErrorContext(ctx, "claim failed", "worker", workerNum, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job *Job) {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		slog.ErrorContext(ctx, "malformed job payload, dropping", "job_id", job.ID, "error", err)
		if err := p.ts.Complete(ctx, job.ID); err != nil {
			slog.ErrorContext(ctx, "failed to delete malformed job", "job_id", job.ID, "error", err)
		}
		return
	}

	// The job runs on a context detached from ctx's cancellation: once ctx
	// is cancelled, the in-flight job gets ShutdownTimeout more before its
	// own context is cancelled too.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.cfg.ShutdownTimeout, cancel)
	})
	defer stop()

	heartbeater := heartbeatAdapter{ts: p.ts, visibilityTimeout: p.cfg.VisibilityTimeout}

	if err := p.executor.Run(runCtx, job.ID, payload.MetadataID, heartbeater); err != nil {
		slog.ErrorContext(ctx, "execution returned error", "job_id", job.ID, "error", err)
	}

	if err := p.ts.Complete(runCtx, job.ID); err != nil {
		slog.ErrorContext(ctx, "failed to delete completed job", "job_id", job.ID, "error", err)
	}
}

// ErrNoJobAvailable is returned by implementations that prefer an
// explicit sentinel over a nil Job, kept for symmetry with the rest of
// the codebase's typed-error style even though Claim's primary contract
// is the nil return.
var ErrNoJobAvailable = errors.New("taskserver: no job available")
