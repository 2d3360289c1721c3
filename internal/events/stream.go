package events

import (
	"context"
	"sync"
	"time"
)

// Type identifies the kind of fact an event reports.
type Type string

const (
	// PlanStart is emitted once when plan execution begins.
	PlanStart Type = "plan_start"
	// PlanEnd is emitted once when the plan reaches a terminal state.
	PlanEnd Type = "plan_end"
	// StepStart is emitted when a step transitions to running.
	StepStart Type = "step_start"
	// StepProgress carries intermediate executor output for a step.
	StepProgress Type = "step_progress"
	// StepRetry is emitted when a failed attempt consumes a retry slot.
	StepRetry Type = "step_retry"
	// StepSkipped is emitted when an unmet dependency skips a step.
	StepSkipped Type = "step_skipped"
	// StepEnd is emitted when a step completes successfully.
	StepEnd Type = "step_end"
	// StepError is emitted when a step fails with no retries left.
	StepError Type = "step_error"
	// ToolStart is forwarded from executors when a tool invocation begins.
	ToolStart Type = "tool_start"
	// ToolEnd is forwarded from executors when a tool invocation finishes.
	ToolEnd Type = "tool_end"
)

// Event is a point-in-time fact about plan execution. Immutable once
// emitted; consumers never mutate it.
type Event struct {
	Type      Type
	StepID    string
	Executor  string
	Content   string
	Metadata  map[string]any
	Timestamp time.Time
}

// Stream is a bounded, ordered sink of events with one reader and any
// number of concurrent writers. Events from the same step arrive in causal
// order because each step has exactly one writer; events from different
// steps may interleave. A full stream blocks the writer rather than
// dropping events.
type Stream struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewStream creates a stream with the given buffer capacity. Capacities
// below one are clamped to one.
func NewStream(capacity int) *Stream {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream{ch: make(chan Event, capacity)}
}

// Publish appends an event, blocking while the buffer is full. Returns the
// context error if the caller is cancelled before space frees up. A zero
// timestamp is stamped at publish time.
func (s *Stream) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the read side of the stream. The channel closes when the
// producer calls Close.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Safe to call more than once; publishing after
// Close is a programmer error.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
