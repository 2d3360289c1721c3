package executor

import (
	"context"
	"fmt"

	"github.com/maestro-run/maestro/internal/tool"
)

// ToolCall names one tool invocation in a toolchain.
type ToolCall struct {
	Tool   string
	Params map[string]any
}

// Toolchain is an executor that drives a fixed sequence of tool
// invocations through an Invoker, surfacing each call as tool_start and
// tool_end events. The chain fails on the first failed call.
type Toolchain struct {
	ExecutorName string
	Invoker      tool.Invoker
	Calls        []ToolCall
}

// Name implements Executor.
func (t *Toolchain) Name() string { return t.ExecutorName }

// Execute runs the chain in order and completes with the collected tool
// outputs keyed by tool name. Calls without explicit params receive the
// step input, so upstream outputs can feed a tool directly.
func (t *Toolchain) Execute(ctx context.Context, task string, input map[string]any) (<-chan Event, error) {
	if t.Invoker == nil {
		return nil, fmt.Errorf("toolchain %q has no invoker", t.ExecutorName)
	}

	out := make(chan Event, 2)
	go func() {
		defer close(out)

		emit := func(event Event) bool {
			select {
			case out <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventStart, Content: task}) {
			return
		}

		results := make(map[string]any, len(t.Calls))
		for _, call := range t.Calls {
			params := call.Params
			if params == nil {
				params = input
			}

			if !emit(Event{Type: EventToolStart, Content: call.Tool, Payload: params}) {
				return
			}

			res := t.Invoker.Invoke(ctx, call.Tool, params)
			if !emit(Event{Type: EventToolEnd, Content: call.Tool, Payload: map[string]any{
				"success":     res.Success,
				"duration_ms": res.DurationMS,
			}}) {
				return
			}

			if res.Err != nil {
				emit(Event{Type: EventError, Err: res.Err})
				return
			}
			results[call.Tool] = res.Output
		}

		emit(Event{Type: EventComplete, Payload: results})
	}()
	return out, nil
}
