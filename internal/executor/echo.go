package executor

import (
	"context"
)

// Echo is a reference executor that reports progress and completes with
// the task text. Used by the default fallback plan and in demos.
type Echo struct{}

// Name implements Executor.
func (e *Echo) Name() string { return "echo" }

// Execute emits start, one progress event, and a complete event carrying
// the task back to the caller.
func (e *Echo) Execute(ctx context.Context, task string, input map[string]any) (<-chan Event, error) {
	out := make(chan Event, 3)
	go func() {
		defer close(out)
		for _, event := range []Event{
			{Type: EventStart},
			{Type: EventProgress, Content: task},
			{Type: EventComplete, Payload: map[string]any{"echo": task}},
		} {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
