// Package workflowbus is a generic, compile-time-checked substitute for the
// reflection-based "assembly scanning" that a naive implementation of this
// system would reach for. A workflow type registers its handler once at
// process startup; TaskServerExecutor looks it up by name at dispatch time.
package workflowbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes one workflow invocation against a decoded input and
// returns a JSON-serializable result.
type Handler[In, Out any] func(ctx Context, input In) (Out, error)

// Context carries the per-invocation facilities a handler needs without
// pulling in the executor package (which in turn depends on workflowbus),
// avoiding an import cycle.
type Context interface {
	Heartbeat() error
	StepStarted(name string)
	Cancelled() bool
}

// entry type-erases a Handler so the registry can store handlers of
// differing In/Out behind one map.
type entry struct {
	inputTypeName string
	invoke        func(ctx Context, rawInput json.RawMessage) (json.RawMessage, error)
}

// Registry is a name-keyed set of registered workflow handlers. It is safe
// for concurrent use; registration normally happens once at startup but the
// lock protects against late registration from plugin-style init order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// ErrAlreadyRegistered is returned by Register when a workflow name is
// registered twice, which almost always indicates a copy-pasted
// registration and not an intentional override.
type ErrAlreadyRegistered struct {
	Name string
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("workflowbus: workflow %q already registered", e.Name)
}

// ErrUnknownWorkflow is returned by Dispatch when no handler is registered
// under the requested name.
type ErrUnknownWorkflow struct {
	Name string
}

func (e *ErrUnknownWorkflow) Error() string {
	return fmt.Sprintf("workflowbus: no handler registered for workflow %q", e.Name)
}

// Register binds a typed Handler to a workflow name. Name is the
// WorkflowTypeName recorded on Manifest/Metadata/WorkQueueEntry rows;
// inputTypeName is recorded alongside it purely for diagnostics (it lets an
// operator tell, from the database alone, which Go type a stored JSON blob
// decodes into).
func Register[In, Out any](r *Registry, name, inputTypeName string, h Handler[In, Out]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return &ErrAlreadyRegistered{Name: name}
	}

	r.entries[name] = entry{
		inputTypeName: inputTypeName,
		invoke: func(ctx Context, rawInput json.RawMessage) (json.RawMessage, error) {
			var in In
			if len(rawInput) > 0 {
				if err := json.Unmarshal(rawInput, &in); err != nil {
					return nil, fmt.Errorf("workflowbus: decode input for %q: %w", name, err)
				}
			}

			out, err := h(ctx, in)
			if err != nil {
				return nil, err
			}

			encoded, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("workflowbus: encode output for %q: %w", name, err)
			}
			return encoded, nil
		},
	}
	return nil
}

// MustRegister is Register, panicking on error. Intended for package-level
// var-block registration where a duplicate name is a programmer error that
// should fail fast at process startup.
func MustRegister[In, Out any](r *Registry, name, inputTypeName string, h Handler[In, Out]) {
	if err := Register(r, name, inputTypeName, h); err != nil {
		panic(err)
	}
}

// Dispatch invokes the handler registered under name with the given raw
// JSON input, returning the raw JSON output.
func (r *Registry) Dispatch(ctx Context, name string, rawInput json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrUnknownWorkflow{Name: name}
	}
	return e.invoke(ctx, rawInput)
}

// InputTypeName returns the recorded input type name for a registered
// workflow, used when constructing work-queue rows so the discriminator
// column always matches what Register was called with.
func (r *Registry) InputTypeName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.inputTypeName, true
}

// Names returns every registered workflow name, sorted by insertion is not
// guaranteed; callers that need a stable order should sort it themselves.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
