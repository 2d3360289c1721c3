package errors

import (
	"fmt"
	"strings"
	"time"
)

// CircularDependencyError reports a cycle found while resolving a plan's
// dependency graph. Cycle holds the step ids in traversal order, with the
// repeated step appearing first and last.
type CircularDependencyError struct {
	Cycle []string
}

// NewCircularDependencyError constructs a CircularDependencyError.
func NewCircularDependencyError(cycle []string) error {
	return &CircularDependencyError{Cycle: append([]string(nil), cycle...)}
}

func (e *CircularDependencyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

// DanglingDependencyError reports a depends_on reference to a step id that
// does not exist in the plan.
type DanglingDependencyError struct {
	StepID     string
	Dependency string
}

// NewDanglingDependencyError constructs a DanglingDependencyError.
func NewDanglingDependencyError(stepID, dependency string) error {
	return &DanglingDependencyError{StepID: stepID, Dependency: dependency}
}

func (e *DanglingDependencyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q depends on unknown step %q", e.StepID, e.Dependency)
}

// ExecutorNotFoundError indicates a step named an executor that is not
// registered. The step fails immediately; this error is never retried.
type ExecutorNotFoundError struct {
	Name string
}

// NewExecutorNotFoundError constructs an ExecutorNotFoundError.
func NewExecutorNotFoundError(name string) error {
	return &ExecutorNotFoundError{Name: name}
}

func (e *ExecutorNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("executor %q not registered", e.Name)
}

// ExecutionTimeoutError indicates a single step attempt exceeded its
// timeout. Retryable: it consumes one retry slot.
type ExecutionTimeoutError struct {
	StepID  string
	Timeout time.Duration
	Err     error
}

// NewExecutionTimeoutError constructs an ExecutionTimeoutError.
func NewExecutionTimeoutError(stepID string, timeout time.Duration, err error) error {
	return &ExecutionTimeoutError{StepID: stepID, Timeout: timeout, Err: err}
}

func (e *ExecutionTimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q timed out after %s", e.StepID, e.Timeout)
}

// Unwrap exposes the underlying error.
func (e *ExecutionTimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ToolExecutionError is surfaced by an executor when a tool invocation
// fails. Treated as a step-level failure and retryable.
type ToolExecutionError struct {
	Tool string
	Err  error
}

// NewToolExecutionError constructs a ToolExecutionError.
func NewToolExecutionError(tool string, err error) error {
	return &ToolExecutionError{Tool: tool, Err: err}
}

func (e *ToolExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %q failed", e.Tool)
}

// Unwrap exposes the underlying error.
func (e *ToolExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CancelledError marks a step that never reached a terminal state before
// its plan execution was cancelled. Not retried.
type CancelledError struct {
	StepID string
	Err    error
}

// NewCancelledError constructs a CancelledError.
func NewCancelledError(stepID string, err error) error {
	return &CancelledError{StepID: stepID, Err: err}
}

func (e *CancelledError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q cancelled", e.StepID)
}

// Unwrap exposes the underlying error.
func (e *CancelledError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration or plan document validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents an engine-internal failure outside any single
// step, for example a resolved level naming a step the plan does not hold.
type ExecutionError struct {
	StepID string
	Err    error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(stepID string, err error) error {
	return &ExecutionError{StepID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("execution error: step %s: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
