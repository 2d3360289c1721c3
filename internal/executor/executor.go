package executor

import (
	"context"
)

// EventType classifies events produced by an executor while working on a
// task. The engine only inspects the type; payloads are opaque to it.
type EventType string

const (
	// EventStart signals the executor accepted the task.
	EventStart EventType = "start"
	// EventProgress carries intermediate output.
	EventProgress EventType = "progress"
	// EventToolStart signals a tool invocation is beginning.
	EventToolStart EventType = "tool_start"
	// EventToolEnd signals a tool invocation finished.
	EventToolEnd EventType = "tool_end"
	// EventComplete carries the terminal result payload.
	EventComplete EventType = "complete"
	// EventError carries a terminal failure.
	EventError EventType = "error"
)

// Event is one item of an executor's event stream.
type Event struct {
	Type    EventType
	Content string
	Payload map[string]any
	Err     error
}

// Executor performs the actual work of one step. Execute returns a channel
// that the executor closes after emitting a terminal complete or error
// event. Implementations must respect ctx cancellation.
type Executor interface {
	Name() string
	Execute(ctx context.Context, task string, input map[string]any) (<-chan Event, error)
}
