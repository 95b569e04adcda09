package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Store is the persistence slice JobDispatcher needs: read queued rows
// plus enabled caps, and atomically dispatch the admitted subset.
type Store interface {
	// QueuedCandidates returns every Queued work_queue row whose owning
	// manifest and group are enabled and whose created_at (a retry's
	// backoff-delayed time) has arrived, along with the caps currently
	// configured (global + per group) and the jobs already active
	// globally/per-group, so Dispatcher can run the admission algebra
	// without a second round trip.
	QueuedCandidates(ctx context.Context) ([]Candidate, AdmissionCaps, int, map[string]int, error)

	// DispatchBatch transitions the given work_queue IDs to Dispatched,
	// creates a Pending metadata row for each, and enqueues a
	// background_job referencing that metadata — all in one transaction
	// per SPEC §4.6.
	DispatchBatch(ctx context.Context, workQueueIDs []string) error
}

// Config controls the poll loop cadence and the admission algebra's
// deployment-tunable knobs.
type Config struct {
	PollingInterval time.Duration

	// DependentPriorityBoost overrides the package-default
	// DependentPriorityBoost when non-zero.
	DependentPriorityBoost int

	// GlobalActiveJobCap overrides whatever global cap the store reports
	// when positive. Zero defers to the store-reported cap; the Postgres
	// store reports none (zero, unbounded), so with it this setting is the
	// only global cap.
	GlobalActiveJobCap int
}

// DefaultConfig matches the teacher's RunProcessOnce cadence.
func DefaultConfig() Config {
	return Config{PollingInterval: time.Second, DependentPriorityBoost: DependentPriorityBoost}
}

// Dispatcher is JobDispatcher: the poll loop that drains admitted
// work_queue rows into the task server.
type Dispatcher struct {
	store Store
	cfg   Config
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store Store, cfg Config) *Dispatcher {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultConfig().PollingInterval
	}
	if cfg.DependentPriorityBoost == 0 {
		cfg.DependentPriorityBoost = DependentPriorityBoost
	}
	return &Dispatcher{store: store, cfg: cfg}
}

// Run blocks, running one admission+dispatch tick every PollingInterval
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "dispatch tick failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single admission+dispatch pass.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	cands, caps, globalActive, groupActive, err := d.store.QueuedCandidates(ctx)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		return nil
	}

	for i := range cands {
		cands[i].Priority = EffectivePriorityWithBoost(cands[i].Priority, cands[i].IsDependent, d.cfg.DependentPriorityBoost)
	}
	SortCandidates(cands)
	if d.cfg.GlobalActiveJobCap > 0 {
		caps.GlobalCap = d.cfg.GlobalActiveJobCap
	}
	admitted := Admit(cands, globalActive, groupActive, caps)
	if len(admitted) == 0 {
		return nil
	}

	if err := d.store.DispatchBatch(ctx, admitted); err != nil {
		return err
	}

	slog.InfoContext(ctx, "dispatched work queue batch", "count", len(admitted))
	return nil
}
