package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Status enumerates step and plan lifecycle states. Transitions only move
// forward: pending -> running -> {completed, failed, skipped}. A step
// re-enters running from failed only through the explicit retry path.
type Status string

const (
	// StatusPending indicates work that has not started yet.
	StatusPending Status = "pending"
	// StatusRunning indicates work that is actively executing.
	StatusRunning Status = "running"
	// StatusCompleted marks a successful terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed marks a failed terminal state.
	StatusFailed Status = "failed"
	// StatusSkipped marks a step that never ran because a dependency did
	// not complete.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is one of the terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Mode selects the execution strategy for a plan. Fixed for the plan's
// lifetime once execution starts.
type Mode string

const (
	// ModeSequential runs steps one at a time in declaration order.
	ModeSequential Mode = "sequential"
	// ModeParallel runs dependency levels concurrently with a barrier
	// between levels.
	ModeParallel Mode = "parallel"
	// ModeConditional runs sequentially with a predicate evaluated before
	// each step.
	ModeConditional Mode = "conditional"
)

// Valid reports whether the mode is one of the known strategies.
func (m Mode) Valid() bool {
	return m == ModeSequential || m == ModeParallel || m == ModeConditional
}

// Step is one unit of work assigned to a named executor.
type Step struct {
	ID          string
	Description string
	Executor    string
	DependsOn   []string
	Input       map[string]any
	Status      Status
	RetryCount  int
	MaxRetries  int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Output      map[string]any
	Err         error
}

// NewStep constructs a pending step.
func NewStep(id, description, executor string, dependsOn []string) *Step {
	return &Step{
		ID:          id,
		Description: description,
		Executor:    executor,
		DependsOn:   append([]string(nil), dependsOn...),
		Status:      StatusPending,
	}
}

// MarkRunning transitions the step from pending to running and records the
// start timestamp exactly once.
func (s *Step) MarkRunning(now time.Time) error {
	if s.Status != StatusPending {
		return maestroerrors.NewValidationError(s.ID, fmt.Sprintf("cannot start step in state %s", s.Status), nil)
	}
	s.Status = StatusRunning
	if s.StartedAt == nil {
		started := now
		s.StartedAt = &started
	}
	return nil
}

// IncrementRetry records one consumed retry slot. The step stays running
// between attempts; callers must check the ceiling before re-invoking.
func (s *Step) IncrementRetry() error {
	if s.Status != StatusRunning {
		return maestroerrors.NewValidationError(s.ID, fmt.Sprintf("cannot retry step in state %s", s.Status), nil)
	}
	if s.RetryCount >= s.MaxRetries {
		return maestroerrors.NewValidationError(s.ID, "retry ceiling reached", nil)
	}
	s.RetryCount++
	return nil
}

// MarkCompleted transitions the step from running to completed.
func (s *Step) MarkCompleted(output map[string]any, now time.Time) error {
	if s.Status != StatusRunning {
		return maestroerrors.NewValidationError(s.ID, fmt.Sprintf("cannot complete step in state %s", s.Status), nil)
	}
	s.Status = StatusCompleted
	s.Output = output
	if s.CompletedAt == nil {
		completed := now
		s.CompletedAt = &completed
	}
	return nil
}

// MarkFailed transitions the step to failed from pending or running.
// Pending is allowed so cancellation can fail steps that never started.
func (s *Step) MarkFailed(err error, now time.Time) error {
	if s.Status.Terminal() {
		return maestroerrors.NewValidationError(s.ID, fmt.Sprintf("cannot fail step in state %s", s.Status), nil)
	}
	s.Status = StatusFailed
	s.Err = err
	if s.CompletedAt == nil {
		completed := now
		s.CompletedAt = &completed
	}
	return nil
}

// MarkSkipped transitions the step from pending to skipped.
func (s *Step) MarkSkipped(now time.Time) error {
	if s.Status != StatusPending {
		return maestroerrors.NewValidationError(s.ID, fmt.Sprintf("cannot skip step in state %s", s.Status), nil)
	}
	s.Status = StatusSkipped
	if s.CompletedAt == nil {
		completed := now
		s.CompletedAt = &completed
	}
	return nil
}

// Duration returns the wall time between start and completion, zero when
// either timestamp is missing.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Plan is the full set of steps and execution metadata for one query.
type Plan struct {
	ID        string
	Query     string
	Mode      Mode
	Status    Status
	Steps     []*Step
	CreatedAt time.Time
}

// New constructs a pending plan, enforcing unique step ids and a known
// execution mode. The dependency graph itself is validated separately by
// the resolver before execution starts.
func New(query string, mode Mode, steps []*Step) (*Plan, error) {
	if !mode.Valid() {
		return nil, maestroerrors.NewValidationError("mode", fmt.Sprintf("unknown execution mode %q", mode), nil)
	}
	if len(steps) == 0 {
		return nil, maestroerrors.NewValidationError("steps", "plan requires at least one step", nil)
	}

	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if step == nil || step.ID == "" {
			return nil, maestroerrors.NewValidationError("steps", "step id cannot be empty", nil)
		}
		if step.Executor == "" {
			return nil, maestroerrors.NewValidationError("steps", fmt.Sprintf("step %q has no executor", step.ID), nil)
		}
		if _, exists := seen[step.ID]; exists {
			return nil, maestroerrors.NewValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}
		seen[step.ID] = struct{}{}
	}

	return &Plan{
		ID:        uuid.NewString(),
		Query:     query,
		Mode:      mode,
		Status:    StatusPending,
		Steps:     steps,
		CreatedAt: time.Now(),
	}, nil
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (*Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return nil, false
}

// CompletedSteps counts steps in the completed state. Derived, never
// independently mutated.
func (p *Plan) CompletedSteps() int {
	return p.countStatus(StatusCompleted)
}

// FailedSteps counts steps in the failed state.
func (p *Plan) FailedSteps() int {
	return p.countStatus(StatusFailed)
}

// SkippedSteps counts steps in the skipped state.
func (p *Plan) SkippedSteps() int {
	return p.countStatus(StatusSkipped)
}

func (p *Plan) countStatus(status Status) int {
	count := 0
	for _, step := range p.Steps {
		if step.Status == status {
			count++
		}
	}
	return count
}

// AllTerminal reports whether every step has reached a terminal state.
func (p *Plan) AllTerminal() bool {
	for _, step := range p.Steps {
		if !step.Status.Terminal() {
			return false
		}
	}
	return true
}
