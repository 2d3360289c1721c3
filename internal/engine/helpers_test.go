package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maestro-run/maestro/internal/events"
	"github.com/maestro-run/maestro/internal/executor"
)

// scriptCall describes the behavior of one invocation of a scripted
// executor. The last call in a script repeats for further attempts.
type scriptCall struct {
	delay  time.Duration
	fail   bool
	extra  []executor.Event
	output map[string]any
}

// scripted is a deterministic executor for tests.
type scripted struct {
	name   string
	script []scriptCall

	mu      sync.Mutex
	calls   int
	started chan string   // receives the task on every call when non-nil
	gate    chan struct{} // blocks completion until closed when non-nil
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scripted) Execute(ctx context.Context, task string, _ map[string]any) (<-chan executor.Event, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	call := scriptCall{output: map[string]any{"task": task}}
	if len(s.script) > 0 {
		if idx >= len(s.script) {
			idx = len(s.script) - 1
		}
		call = s.script[idx]
	}

	if s.started != nil {
		s.started <- task
	}

	ch := make(chan executor.Event, 4+len(call.extra))
	go func() {
		defer close(ch)

		if s.gate != nil {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return
			}
		}
		if call.delay > 0 {
			select {
			case <-time.After(call.delay):
			case <-ctx.Done():
				return
			}
		}

		for _, event := range call.extra {
			ch <- event
		}
		if call.fail {
			ch <- executor.Event{Type: executor.EventError, Err: errors.New("scripted failure")}
			return
		}
		output := call.output
		if output == nil {
			output = map[string]any{"task": task}
		}
		ch <- executor.Event{Type: executor.EventComplete, Payload: output}
	}()
	return ch, nil
}

// collectEvents drains a stream in the background and delivers everything
// observed once the stream closes.
func collectEvents(stream *events.Stream) <-chan []events.Event {
	done := make(chan []events.Event, 1)
	go func() {
		var collected []events.Event
		for event := range stream.Events() {
			collected = append(collected, event)
		}
		done <- collected
	}()
	return done
}

func eventTypesForStep(collected []events.Event, stepID string) []events.Type {
	var types []events.Type
	for _, event := range collected {
		if event.StepID == stepID {
			types = append(types, event.Type)
		}
	}
	return types
}
