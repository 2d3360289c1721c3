package errors

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircularDependencyError_NamesCycle(t *testing.T) {
	t.Parallel()

	err := NewCircularDependencyError([]string{"a", "b", "c", "a"})
	require.EqualError(t, err, "circular dependency: a -> b -> c -> a")

	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, []string{"a", "b", "c", "a"}, cycleErr.Cycle)
}

func TestDanglingDependencyError_Message(t *testing.T) {
	t.Parallel()

	err := NewDanglingDependencyError("q", "r")
	require.EqualError(t, err, `step "q" depends on unknown step "r"`)
}

func TestExecutionTimeoutError_Unwraps(t *testing.T) {
	t.Parallel()

	err := NewExecutionTimeoutError("fetch", 5*time.Second, io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Contains(t, err.Error(), "5s")
}

func TestToolExecutionError_WithAndWithoutCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dns failure")
	err := NewToolExecutionError("http_get", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "http_get")

	bare := NewToolExecutionError("http_get", nil)
	require.EqualError(t, bare, `tool "http_get" failed`)
}

func TestCancelledError_Identity(t *testing.T) {
	t.Parallel()

	err := NewCancelledError("upload", nil)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	require.Equal(t, "upload", cancelled.StepID)
}

func TestValidationError_FieldPrefix(t *testing.T) {
	t.Parallel()

	err := NewValidationError("steps", "duplicate step id", nil)
	require.EqualError(t, err, "validation error: steps: duplicate step id")

	noField := NewValidationError("", "empty plan", nil)
	require.EqualError(t, noField, "validation error: empty plan")
}
