package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Success    bool
	Output     any
	Err        error
	DurationMS int64
}

// Invoker executes a named tool with parameters. Consumed by executors,
// never by the engine directly.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) Result
}

// Tool is one invocable capability.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// Registry holds tools and implements Invoker with duration bookkeeping.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its own name.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return maestroerrors.NewValidationError("tool", "tool must have a name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return maestroerrors.NewValidationError("tool", fmt.Sprintf("tool %q already registered", t.Name()), nil)
	}
	r.tools[t.Name()] = t
	return nil
}

// Invoke runs the named tool, capturing its duration and folding failures
// into the result instead of returning them.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Err: maestroerrors.NewToolExecutionError(name, fmt.Errorf("unknown tool"))}
	}

	start := time.Now()
	output, err := t.Invoke(ctx, params)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return Result{Err: maestroerrors.NewToolExecutionError(name, err), DurationMS: elapsed}
	}
	return Result{Success: true, Output: output, DurationMS: elapsed}
}

// Names lists registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return value, nil
}
