package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/maestro-run/maestro/internal/events"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/logger"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/plan"
	"github.com/maestro-run/maestro/internal/tracing"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

var errStepMissing = errors.New("step referenced by resolved level not present in plan")

const (
	skipReasonDependency = "dependency not completed"
	skipReasonPredicate  = "predicate rejected step"
)

// ErrEngineConsumed reports a second Execute call on the same engine.
// Execute closes the event stream when the plan terminates, so each run
// needs a fresh engine and stream.
var ErrEngineConsumed = errors.New("engine already executed a plan; construct a new engine per run")

// Registry is the engine's view of executor resolution.
type Registry interface {
	Lookup(name string) (executor.Executor, error)
}

// HistorySink receives fire-and-forget persistence callbacks at plan
// creation and termination. Sink failures are logged, never propagated
// into plan status.
type HistorySink interface {
	SavePlan(ctx context.Context, p *plan.Plan) error
	SaveExecution(ctx context.Context, summary Summary) error
}

// Predicate decides whether a conditional step should run, given the plan
// state accumulated so far. Steps whose predicate returns false are
// skipped. Dependency gating applies before the predicate.
type Predicate func(step *plan.Step, p *plan.Plan) bool

// Options tunes one engine instance.
type Options struct {
	// MaxParallel bounds the worker pool for parallel mode.
	MaxParallel int
	// StepTimeout bounds each step attempt. Zero disables the bound.
	StepTimeout time.Duration
	// Predicate is the conditional-mode hook. Nil means every
	// dependency-satisfied step runs.
	Predicate Predicate
}

// Summary describes one finished plan execution.
type Summary struct {
	PlanID         string
	Query          string
	Mode           plan.Mode
	Status         plan.Status
	CompletedSteps int
	FailedSteps    int
	SkippedSteps   int
	Duration       time.Duration
	FinishedAt     time.Time
}

// Engine orchestrates one whole plan. Execute owns the plan exclusively
// for the session's lifetime and closes the event stream when the plan
// terminates, so an engine and its stream serve exactly one run;
// concurrent plans get independent engines.
type Engine struct {
	registry Registry
	stream   *events.Stream
	metrics  *metrics.Recorder
	history  HistorySink
	log      *logger.Logger
	opts     Options
	ran      atomic.Bool
}

// New constructs an engine. history may be nil when persistence is not
// wanted; metrics may be nil in tests.
func New(registry Registry, stream *events.Stream, rec *metrics.Recorder, history HistorySink, log *logger.Logger, opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Engine{
		registry: registry,
		stream:   stream,
		metrics:  rec,
		history:  history,
		log:      log,
		opts:     opts,
	}
}

// session is the runtime state for one plan execution: the worker pool
// handle, the runner, and the plan the engine owns until termination.
type session struct {
	engine *Engine
	plan   *plan.Plan
	runner *Runner
	pool   chan struct{}
}

// Execute runs the plan to a terminal state and returns its summary. The
// returned error is non-nil only for plan-construction failures (graph
// validation), engine-internal faults, or cancellation; individual step
// failures are reported through the summary's FailedSteps count.
// A second call returns ErrEngineConsumed: the stream closed with the
// first plan.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan) (Summary, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return Summary{}, ErrEngineConsumed
	}

	ctx, span := tracing.StartSpan(ctx, "plan.execute",
		attribute.String("plan.id", p.ID),
		attribute.String("plan.mode", string(p.Mode)),
		attribute.Int("plan.steps", len(p.Steps)),
	)
	defer span.End()
	defer e.stream.Close()

	start := time.Now()
	planLog := e.log.WithFields(map[string]any{"plan_id": p.ID, "mode": p.Mode})

	levels, err := Resolve(p.Steps)
	if err != nil {
		p.Status = plan.StatusFailed
		planLog.Error(err, "dependency resolution failed")
		return e.finish(p, start, err)
	}

	e.saveAsync(func(saveCtx context.Context) error { return e.history.SavePlan(saveCtx, p) }, "plan save failed")

	p.Status = plan.StatusRunning
	e.tryEmit(events.Event{Type: events.PlanStart, Content: p.Query, Metadata: map[string]any{"plan_id": p.ID, "mode": string(p.Mode)}})
	planLog.Info("plan execution started")

	s := &session{
		engine: e,
		plan:   p,
		runner: NewRunner(e.stream, e.metrics, e.opts.StepTimeout, e.log),
		pool:   make(chan struct{}, e.opts.MaxParallel),
	}

	var strategyErr error
	switch p.Mode {
	case plan.ModeParallel:
		strategyErr = s.runParallel(ctx, levels)
	case plan.ModeConditional:
		strategyErr = s.runConditional(ctx)
	default:
		strategyErr = s.runSequential(ctx)
	}

	if strategyErr != nil {
		// Abandoned mid-flight: every step that never reached a terminal
		// state is failed with a cancellation error.
		now := time.Now()
		for _, step := range p.Steps {
			if !step.Status.Terminal() {
				_ = step.MarkFailed(maestroerrors.NewCancelledError(step.ID, strategyErr), now)
			}
		}
		p.Status = plan.StatusFailed
		planLog.Error(strategyErr, "plan execution aborted")
		return e.finish(p, start, strategyErr)
	}

	p.Status = plan.StatusCompleted
	planLog.Info("plan execution completed")
	return e.finish(p, start, nil)
}

// finish emits the terminal plan event, records metrics, and fires the
// persistence callback.
func (e *Engine) finish(p *plan.Plan, start time.Time, execErr error) (Summary, error) {
	duration := time.Since(start)
	summary := Summary{
		PlanID:         p.ID,
		Query:          p.Query,
		Mode:           p.Mode,
		Status:         p.Status,
		CompletedSteps: p.CompletedSteps(),
		FailedSteps:    p.FailedSteps(),
		SkippedSteps:   p.SkippedSteps(),
		Duration:       duration,
		FinishedAt:     time.Now(),
	}

	e.tryEmit(events.Event{Type: events.PlanEnd, Metadata: map[string]any{
		"plan_id":   p.ID,
		"status":    string(p.Status),
		"completed": summary.CompletedSteps,
		"failed":    summary.FailedSteps,
		"skipped":   summary.SkippedSteps,
	}})

	e.metrics.RecordExecution(execErr == nil && summary.FailedSteps == 0, duration)

	// The summary save is synchronous so the record survives a process
	// that exits right after Execute returns. Bounded, and failures still
	// never reach plan status.
	if e.history != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.history.SaveExecution(saveCtx, summary); err != nil {
			e.log.Warn("execution save failed: " + err.Error())
		}
		cancel()
	}

	return summary, execErr
}

// saveAsync invokes a persistence callback without awaiting it. Failures
// are logged by the engine and never reach plan status.
func (e *Engine) saveAsync(save func(context.Context) error, failureMsg string) {
	if e.history == nil {
		return
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := save(saveCtx); err != nil {
			e.log.Warn(failureMsg + ": " + err.Error())
		}
	}()
}

// tryEmit publishes engine-level events with a bounded grace period so a
// stalled consumer cannot wedge plan teardown. Dropped events are logged.
func (e *Engine) tryEmit(event events.Event) {
	emitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.stream.Publish(emitCtx, event); err != nil {
		e.log.Warn("dropped " + string(event.Type) + " event: consumer did not drain in time")
	}
}

// runSequential iterates steps in declaration order, one in flight at a
// time. A step whose dependencies did not all complete is skipped; the
// plan keeps going.
func (s *session) runSequential(ctx context.Context) error {
	for _, step := range s.plan.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.depsCompleted(step) {
			if err := s.skip(ctx, step, skipReasonDependency); err != nil {
				return err
			}
			continue
		}
		if err := s.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// runConditional is sequential execution with a predicate check point
// before each dependency-satisfied step. The predicate hook is the only
// behavioral distinction from sequential mode.
func (s *session) runConditional(ctx context.Context) error {
	pred := s.engine.opts.Predicate
	for _, step := range s.plan.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.depsCompleted(step) {
			if err := s.skip(ctx, step, skipReasonDependency); err != nil {
				return err
			}
			continue
		}
		if pred != nil && !pred(step, s.plan) {
			if err := s.skip(ctx, step, skipReasonPredicate); err != nil {
				return err
			}
			continue
		}
		if err := s.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// runParallel dispatches each level's steps to the worker pool and
// barrier-waits for the whole level before starting the next. A failure in
// one step never cancels its siblings; it only causes dependents in later
// levels to be skipped.
func (s *session) runParallel(ctx context.Context, levels []Level) error {
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wg sync.WaitGroup
		var once sync.Once
		var abortErr error

		for _, stepID := range level {
			step, ok := s.plan.Step(stepID)
			if !ok {
				return maestroerrors.NewExecutionError(stepID, errStepMissing)
			}

			if !s.depsCompleted(step) {
				if err := s.skip(ctx, step, skipReasonDependency); err != nil {
					return err
				}
				continue
			}

			wg.Add(1)
			go func(step *plan.Step) {
				defer wg.Done()

				select {
				case s.pool <- struct{}{}:
					defer func() { <-s.pool }()
				case <-ctx.Done():
					once.Do(func() { abortErr = ctx.Err() })
					return
				}

				if err := s.runStep(ctx, step); err != nil {
					once.Do(func() { abortErr = err })
				}
			}(step)
		}

		wg.Wait()
		if abortErr != nil {
			return abortErr
		}
	}
	return nil
}

// runStep resolves the step's executor and hands it to the runner. An
// unknown executor fails the step immediately with no retry.
func (s *session) runStep(ctx context.Context, step *plan.Step) error {
	stepCtx, span := tracing.StartSpan(ctx, "step.execute",
		attribute.String("step.id", step.ID),
		attribute.String("step.executor", step.Executor),
	)
	defer span.End()

	exec, err := s.engine.registry.Lookup(step.Executor)
	if err != nil {
		now := time.Now()
		if markErr := step.MarkFailed(err, now); markErr != nil {
			return markErr
		}
		s.engine.metrics.RecordStep(string(plan.StatusFailed), 0)
		return s.engine.stream.Publish(ctx, events.Event{
			Type:     events.StepError,
			StepID:   step.ID,
			Executor: step.Executor,
			Content:  err.Error(),
		})
	}

	return s.runner.Run(stepCtx, step, exec, s.collectInput(step))
}

// skip marks a step skipped and reports it on the stream with the reason
// the gate rejected it.
func (s *session) skip(ctx context.Context, step *plan.Step, reason string) error {
	if err := step.MarkSkipped(time.Now()); err != nil {
		return err
	}
	s.engine.metrics.RecordStep(string(plan.StatusSkipped), 0)
	return s.engine.stream.Publish(ctx, events.Event{
		Type:     events.StepSkipped,
		StepID:   step.ID,
		Executor: step.Executor,
		Content:  reason,
	})
}

// depsCompleted reports whether every declared dependency reached
// completed. Failed or skipped dependencies gate the dependent off.
func (s *session) depsCompleted(step *plan.Step) bool {
	for _, dep := range step.DependsOn {
		depStep, ok := s.plan.Step(dep)
		if !ok || depStep.Status != plan.StatusCompleted {
			return false
		}
	}
	return true
}

// collectInput merges the step's declared input with the outputs of its
// completed dependencies, keyed by step id. Safe without locking:
// dependency gating guarantees the dependency finished before its
// dependent starts.
func (s *session) collectInput(step *plan.Step) map[string]any {
	if len(step.DependsOn) == 0 && len(step.Input) == 0 {
		return nil
	}
	input := make(map[string]any, len(step.DependsOn)+len(step.Input))
	for k, v := range step.Input {
		input[k] = v
	}
	for _, dep := range step.DependsOn {
		if depStep, ok := s.plan.Step(dep); ok && depStep.Output != nil {
			input[dep] = depStep.Output
		}
	}
	return input
}
