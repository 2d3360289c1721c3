package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/maestro-run/maestro/internal/events"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/logger"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/plan"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Runner executes exactly one step: it drives the executor's event stream,
// forwards progress events onto the shared stream without collecting them,
// applies the retry policy, and records the terminal outcome on the step.
type Runner struct {
	stream  *events.Stream
	metrics *metrics.Recorder
	timeout time.Duration
	log     *logger.Logger
}

// NewRunner constructs a step runner. timeout bounds each attempt; zero
// disables the bound.
func NewRunner(stream *events.Stream, rec *metrics.Recorder, timeout time.Duration, log *logger.Logger) *Runner {
	return &Runner{stream: stream, metrics: rec, timeout: timeout, log: log}
}

// Run drives one step to a terminal state. input carries the outputs of
// the step's completed dependencies. Step-level failures are recorded on
// the step and not returned; the only error Run reports is cancellation of
// the surrounding session.
func (r *Runner) Run(ctx context.Context, step *plan.Step, exec executor.Executor, input map[string]any) error {
	stepLog := r.log.WithStep(step.ID)

	if err := step.MarkRunning(time.Now()); err != nil {
		return err
	}
	if err := r.emit(ctx, events.Event{Type: events.StepStart, StepID: step.ID, Executor: step.Executor, Content: step.Description}); err != nil {
		return r.abandon(step, err)
	}
	stepLog.Debug("step started")

	for {
		output, err := r.attempt(ctx, step, exec, input)
		if err == nil {
			if markErr := step.MarkCompleted(output, time.Now()); markErr != nil {
				return markErr
			}
			r.metrics.RecordStep(string(plan.StatusCompleted), step.Duration())
			stepLog.Info("step completed")
			return r.emit(ctx, events.Event{
				Type:     events.StepEnd,
				StepID:   step.ID,
				Executor: step.Executor,
				Metadata: output,
			})
		}

		if ctx.Err() != nil {
			return r.abandon(step, ctx.Err())
		}

		if step.RetryCount < step.MaxRetries {
			if retryErr := step.IncrementRetry(); retryErr != nil {
				return retryErr
			}
			stepLog.Warn(fmt.Sprintf("attempt failed, retrying (%d/%d)", step.RetryCount, step.MaxRetries))
			if emitErr := r.emit(ctx, events.Event{
				Type:     events.StepRetry,
				StepID:   step.ID,
				Executor: step.Executor,
				Content:  err.Error(),
				Metadata: map[string]any{"attempt": step.RetryCount},
			}); emitErr != nil {
				return r.abandon(step, emitErr)
			}
			continue
		}

		if markErr := step.MarkFailed(err, time.Now()); markErr != nil {
			return markErr
		}
		r.metrics.RecordStep(string(plan.StatusFailed), step.Duration())
		stepLog.Error(err, "step failed")
		return r.emit(ctx, events.Event{
			Type:     events.StepError,
			StepID:   step.ID,
			Executor: step.Executor,
			Content:  err.Error(),
		})
	}
}

// attempt performs a single bounded invocation of the executor and drains
// its event stream, forwarding intermediate events as they arrive.
func (r *Runner) attempt(ctx context.Context, step *plan.Step, exec executor.Executor, input map[string]any) (map[string]any, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	ch, err := exec.Execute(attemptCtx, step.Description, input)
	if err != nil {
		return nil, err
	}

	var (
		output   map[string]any
		execErr  error
		complete bool
	)

	for {
		select {
		case event, open := <-ch:
			if !open {
				if execErr != nil {
					return nil, execErr
				}
				if !complete {
					return nil, maestroerrors.NewExecutionError(step.ID, fmt.Errorf("executor %q closed its stream without a terminal event", exec.Name()))
				}
				return output, nil
			}
			if err := r.forward(ctx, step, event); err != nil {
				return nil, err
			}
			switch event.Type {
			case executor.EventComplete:
				complete = true
				output = event.Payload
			case executor.EventError:
				execErr = event.Err
				if execErr == nil {
					execErr = fmt.Errorf("executor %q reported an error", exec.Name())
				}
			}
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, maestroerrors.NewExecutionTimeoutError(step.ID, r.timeout, attemptCtx.Err())
		}
	}
}

// forward maps intermediate executor events onto the shared stream, tagged
// with the owning step. Terminal events are not forwarded; the runner
// reports them as step_end / step_error itself.
func (r *Runner) forward(ctx context.Context, step *plan.Step, event executor.Event) error {
	var mapped events.Type
	switch event.Type {
	case executor.EventProgress:
		mapped = events.StepProgress
	case executor.EventToolStart:
		mapped = events.ToolStart
	case executor.EventToolEnd:
		mapped = events.ToolEnd
	default:
		return nil
	}

	return r.emit(ctx, events.Event{
		Type:     mapped,
		StepID:   step.ID,
		Executor: step.Executor,
		Content:  event.Content,
		Metadata: event.Payload,
	})
}

func (r *Runner) emit(ctx context.Context, event events.Event) error {
	return r.stream.Publish(ctx, event)
}

// abandon records a cancellation outcome on a non-terminal step.
func (r *Runner) abandon(step *plan.Step, cause error) error {
	if !step.Status.Terminal() {
		_ = step.MarkFailed(maestroerrors.NewCancelledError(step.ID, cause), time.Now())
		r.metrics.RecordStep(string(plan.StatusFailed), step.Duration())
	}
	return cause
}
