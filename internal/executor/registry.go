package executor

import (
	"fmt"
	"sort"
	"sync"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Registry maps executor names to implementations. It is an explicit value
// handed to the engine at construction, never package-level state.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under its own name.
func (r *Registry) Register(e Executor) error {
	if e == nil || e.Name() == "" {
		return maestroerrors.NewValidationError("executor", "executor must have a name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[e.Name()]; exists {
		return maestroerrors.NewValidationError("executor", fmt.Sprintf("executor %q already registered", e.Name()), nil)
	}
	r.executors[e.Name()] = e
	return nil
}

// Lookup resolves a name to an executor. Unknown names fail fast with
// ExecutorNotFoundError.
func (r *Registry) Lookup(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[name]
	if !ok {
		return nil, maestroerrors.NewExecutorNotFoundError(name)
	}
	return e, nil
}

// Names lists registered executor names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
