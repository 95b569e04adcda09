// Package executor implements TaskServerExecutor: the per-job invocation
// that loads a metadata row, runs the registered workflow through
// workflowbus, and maps the outcome onto retry, dead-letter, or success.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/schedcore/schedcore/internal/domain"
	"github.com/schedcore/schedcore/internal/workflowbus"
)

// StepResult is the explicit outcome of one workflow invocation, checked
// by the executor instead of relying on exceptions for cancellation
// control flow.
type StepResult struct {
	Output    []byte
	Cancelled bool
	Err       error
}

// Ok builds a successful StepResult.
func Ok(output []byte) StepResult { return StepResult{Output: output} }

// CancelledResult builds a cancelled StepResult.
func CancelledResult() StepResult { return StepResult{Cancelled: true} }

// ErrResult builds a failed StepResult.
func ErrResult(err error) StepResult { return StepResult{Err: err} }

// Config controls heartbeat cadence and backoff shape.
type Config struct {
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig mirrors the teacher's DefaultRetryConfig/DefaultWorkerConfig
// defaults, generalized to this domain's naming.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Minute,
		BaseDelay:         time.Minute,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// Heartbeater extends a claimed background job's visibility timeout. The
// executor does not own the background_job row itself (TaskServer does);
// it only needs to keep it alive while the workflow runs.
type Heartbeater interface {
	Heartbeat(ctx context.Context, jobID string) error
}

// Executor runs one claimed job to completion and reports the outcome to
// Store. It keeps no per-job state, so one Executor is shared by every
// TaskServer worker.
type Executor struct {
	store    Store
	registry *workflowbus.Registry
	cfg      Config
}

// New builds an Executor.
func New(store Store, registry *workflowbus.Registry, cfg Config) *Executor {
	return &Executor{store: store, registry: registry, cfg: cfg}
}

// execContext adapts one in-flight execution to workflowbus.Context,
// giving the handler cooperative cancellation visibility and a heartbeat
// hook without coupling workflowbus to the executor's Store interface.
type execContext struct {
	ctx          context.Context
	store        Store
	metadataID   string
	heartbeater  Heartbeater
	jobID        string
	currentStep  string
}

func (e *execContext) Heartbeat() error {
	if e.heartbeater == nil {
		return nil
	}
	return e.heartbeater.Heartbeat(e.ctx, e.jobID)
}

func (e *execContext) StepStarted(name string) {
	e.currentStep = name
}

func (e *execContext) Cancelled() bool {
	requested, err := e.store.IsCancellationRequested(e.ctx, e.metadataID)
	if err != nil {
		slog.WarnContext(e.ctx, "failed to check cancellation flag, assuming not cancelled",
			"metadata_id", e.metadataID, "error", err)
		return false
	}
	return requested
}

// Run executes the job identified by metadataID end to end: claims the
// Pending->InProgress transition, dispatches the workflow, and routes the
// outcome to completion, retry, or dead-letter.
func (ex *Executor) Run(ctx context.Context, jobID, metadataID string, heartbeater Heartbeater) error {
	meta, err := ex.store.GetMetadata(ctx, metadataID)
	if err != nil {
		return fmt.Errorf("executor: load metadata %s: %w", metadataID, err)
	}
	if meta == nil {
		return fmt.Errorf("executor: metadata %s not found", metadataID)
	}

	startedAt := time.Now().UTC()
	if err := ex.store.BeginExecution(ctx, metadataID, startedAt); err != nil {
		if errors.Is(err, domain.ErrNotOwner) {
			slog.WarnContext(ctx, "metadata already claimed by another execution, skipping",
				"metadata_id", metadataID)
			return nil
		}
		return fmt.Errorf("executor: begin execution %s: %w", metadataID, err)
	}

	var manifest *domain.Manifest
	if meta.ManifestID != nil {
		manifest, err = ex.store.GetManifest(ctx, *meta.ManifestID)
		if err != nil {
			return fmt.Errorf("executor: load manifest %s: %w", *meta.ManifestID, err)
		}
	}

	result := ex.invoke(ctx, jobID, meta, heartbeater)
	endedAt := time.Now().UTC()

	switch {
	case result.Cancelled:
		slog.InfoContext(ctx, "execution cancelled", "metadata_id", metadataID)
		return ex.store.CompleteCancelled(ctx, metadataID, endedAt)

	case result.Err != nil:
		return ex.handleFailure(ctx, meta, manifest, result.Err, endedAt)

	default:
		slog.InfoContext(ctx, "execution completed", "metadata_id", metadataID)
		return ex.store.CompleteSuccess(ctx, metadataID, result.Output, endedAt)
	}
}

// invoke runs the registered workflow with panic recovery, reporting the
// panic itself as a StepResult error rather than propagating it, so Run's
// caller (the task server poll loop) never has to recover twice.
func (ex *Executor) invoke(ctx context.Context, jobID string, meta *domain.Metadata, heartbeater Heartbeater) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			slog.ErrorContext(ctx, "workflow panicked", "workflow", meta.WorkflowName, "panic", r)
			result = StepResult{Err: PanicError{Value: r, StackTrace: stack}}
		}
	}()

	execCtx := &execContext{ctx: ctx, store: ex.store, metadataID: meta.ID, heartbeater: heartbeater, jobID: jobID}

	if execCtx.Cancelled() {
		return CancelledResult()
	}

	out, err := ex.registry.Dispatch(execCtx, meta.WorkflowName, meta.Input)
	if err != nil {
		if IsCancelled(err) {
			return CancelledResult()
		}
		var unknown *workflowbus.ErrUnknownWorkflow
		if errors.As(err, &unknown) {
			// An unregistered workflow fails like any other error: the
			// retry policy does not tell it apart, so it is retried while
			// retries remain and then dead-lettered.
			return ErrResult(err)
		}
		return ErrResult(err)
	}

	if execCtx.Cancelled() {
		return CancelledResult()
	}

	return Ok(out)
}

// handleFailure routes a failed execution to retry or dead-letter,
// following the same backoff shape as the teacher's calculateRetryDelay:
// full jitter exponential backoff bounded by MaxDelay.
func (ex *Executor) handleFailure(ctx context.Context, meta *domain.Metadata, manifest *domain.Manifest, cause error, endedAt time.Time) error {
	reason := cause.Error()

	maxRetries := 0
	if manifest != nil {
		maxRetries = manifest.MaxRetries
	}

	if meta.RetryCount >= maxRetries {
		willRetry, err := ex.store.FailAndMaybeRetry(ctx, meta.ID, reason, endedAt, 0)
		if err != nil {
			return fmt.Errorf("executor: fail metadata %s: %w", meta.ID, err)
		}
		if !willRetry && manifest != nil {
			if err := ex.store.DeadLetter(ctx, manifest.ID, reason, meta.RetryCount); err != nil {
				return fmt.Errorf("executor: dead letter manifest %s: %w", manifest.ID, err)
			}
		}
		return nil
	}

	delay := ex.retryDelay(meta.RetryCount)
	willRetry, err := ex.store.FailAndMaybeRetry(ctx, meta.ID, reason, endedAt, delay)
	if err != nil {
		return fmt.Errorf("executor: fail metadata %s: %w", meta.ID, err)
	}

	if !willRetry && manifest != nil {
		if err := ex.store.DeadLetter(ctx, manifest.ID, reason, meta.RetryCount); err != nil {
			return fmt.Errorf("executor: dead letter manifest %s: %w", manifest.ID, err)
		}
	}

	slog.InfoContext(ctx, "execution failed, retry scheduled",
		"metadata_id", meta.ID, "retry_count", meta.RetryCount+1, "delay", delay, "reason", reason)
	return nil
}

// retryDelay computes base*multiplier^retryCount capped at MaxDelay, with
// full jitter (uniform in [0, delay)) to avoid thundering-herd retries
// across many manifests failing at once.
func (ex *Executor) retryDelay(retryCount int) time.Duration {
	backoff := float64(ex.cfg.BaseDelay) * math.Pow(ex.cfg.BackoffMultiplier, float64(retryCount))
	capped := math.Min(backoff, float64(ex.cfg.MaxDelay))
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * capped)
}
