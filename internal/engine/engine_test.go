package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maestro-run/maestro/internal/events"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/logger"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/plan"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

type testHarness struct {
	registry *executor.Registry
	stream   *events.Stream
	metrics  *metrics.Recorder
	engine   *Engine
	events   <-chan []events.Event
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()

	h := &testHarness{
		registry: executor.NewRegistry(),
		stream:   events.NewStream(128),
		metrics:  metrics.NewRecorder(),
	}
	h.events = collectEvents(h.stream)
	h.engine = New(h.registry, h.stream, h.metrics, nil, logger.Noop(), opts)
	return h
}

func (h *testHarness) register(t *testing.T, exec executor.Executor) {
	t.Helper()
	require.NoError(t, h.registry.Register(exec))
}

func mustPlan(t *testing.T, mode plan.Mode, steps []*plan.Step) *plan.Plan {
	t.Helper()
	p, err := plan.New("test query", mode, steps)
	require.NoError(t, err)
	return p
}

func TestEngine_ScenarioA_ParallelDiamond(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{MaxParallel: 4})

	started := make(chan string, 2)
	gate := make(chan struct{})
	concurrent := &scripted{name: "concurrent", started: started, gate: gate}
	final := &scripted{name: "final"}
	h.register(t, concurrent)
	h.register(t, final)

	steps := []*plan.Step{
		plan.NewStep("a", "left", "concurrent", nil),
		plan.NewStep("b", "right", "concurrent", nil),
		plan.NewStep("c", "join", "final", []string{"a", "b"}),
	}
	p := mustPlan(t, plan.ModeParallel, steps)

	type outcome struct {
		summary Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := h.engine.Execute(context.Background(), p)
		done <- outcome{summary: summary, err: err}
	}()

	// Both level-0 steps must be in flight before either completes.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("level 0 steps did not run concurrently")
		}
	}
	require.Zero(t, final.CallCount(), "c must not start before the level barrier")
	close(gate)

	res := <-done
	require.NoError(t, res.err)
	summary := res.summary
	require.Equal(t, plan.StatusCompleted, summary.Status)
	require.Equal(t, 3, summary.CompletedSteps)
	require.Equal(t, 1, final.CallCount())
	<-h.events
}

func TestEngine_ScenarioB_FailedDependencySkipsDependent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "broken", script: []scriptCall{{fail: true}}})
	h.register(t, &scripted{name: "fine"})

	steps := []*plan.Step{
		plan.NewStep("x", "", "broken", nil),
		plan.NewStep("y", "", "fine", []string{"x"}),
	}
	p := mustPlan(t, plan.ModeSequential, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err, "step failures never fail the plan")
	collected := <-h.events

	require.Equal(t, plan.StatusCompleted, summary.Status)
	require.Equal(t, 1, summary.FailedSteps)
	require.Equal(t, 1, summary.SkippedSteps)

	x, _ := p.Step("x")
	y, _ := p.Step("y")
	require.Equal(t, plan.StatusFailed, x.Status)
	require.Equal(t, plan.StatusSkipped, y.Status)
	require.Equal(t, []events.Type{events.StepSkipped}, eventTypesForStep(collected, "y"))
}

func TestEngine_ScenarioC_DanglingDependencyNeverRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	exec := &scripted{name: "fine"}
	h.register(t, exec)

	steps := []*plan.Step{
		plan.NewStep("p", "", "fine", nil),
		plan.NewStep("q", "", "fine", []string{"r"}),
	}
	p := mustPlan(t, plan.ModeParallel, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	<-h.events

	var danglingErr *maestroerrors.DanglingDependencyError
	require.ErrorAs(t, err, &danglingErr)
	require.Equal(t, plan.StatusFailed, summary.Status)
	require.Zero(t, exec.CallCount(), "no step may run after validation failure")
}

func TestEngine_ScenarioD_SequentialTimeoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{StepTimeout: 40 * time.Millisecond})
	h.register(t, &scripted{name: "steady"})
	h.register(t, &scripted{name: "slow_once", script: []scriptCall{
		{delay: time.Second},
		{output: map[string]any{"ok": true}},
	}})

	steps := []*plan.Step{
		plan.NewStep("one", "", "steady", nil),
		plan.NewStep("two", "", "slow_once", []string{"one"}),
		plan.NewStep("three", "", "steady", []string{"two"}),
	}
	steps[1].MaxRetries = 1
	p := mustPlan(t, plan.ModeSequential, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	<-h.events

	require.Equal(t, 3, summary.CompletedSteps)
	for _, step := range p.Steps {
		require.Equal(t, plan.StatusCompleted, step.Status)
	}
	two, _ := p.Step("two")
	require.Equal(t, 1, two.RetryCount)
}

func TestEngine_CycleFailsPlanBeforeAnyStep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	exec := &scripted{name: "fine"}
	h.register(t, exec)

	steps := []*plan.Step{
		plan.NewStep("a", "", "fine", []string{"b"}),
		plan.NewStep("b", "", "fine", []string{"a"}),
	}
	p := mustPlan(t, plan.ModeSequential, steps)

	_, err := h.engine.Execute(context.Background(), p)
	<-h.events

	var cycleErr *maestroerrors.CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, plan.StatusFailed, p.Status)
	require.Zero(t, exec.CallCount())
}

func TestEngine_UnknownExecutorFailsStepWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})

	steps := []*plan.Step{plan.NewStep("ghost", "", "nowhere", nil)}
	steps[0].MaxRetries = 3
	p := mustPlan(t, plan.ModeSequential, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	collected := <-h.events

	require.Equal(t, 1, summary.FailedSteps)
	step, _ := p.Step("ghost")
	require.Equal(t, plan.StatusFailed, step.Status)
	require.Zero(t, step.RetryCount, "executor lookup failures are not retried")

	var notFound *maestroerrors.ExecutorNotFoundError
	require.ErrorAs(t, step.Err, &notFound)
	require.Equal(t, []events.Type{events.StepError}, eventTypesForStep(collected, "ghost"))
}

func TestEngine_ParallelLevelsNeverOverlap(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight := make(map[string]int)
	observed := make(map[string]int)

	track := &trackingExecutor{
		begin: func(task string) {
			mu.Lock()
			defer mu.Unlock()
			inFlight[task]++
			for other, n := range inFlight {
				if other != task && n > 0 {
					observed[task+"+"+other]++
				}
			}
		},
		end: func(task string) {
			mu.Lock()
			defer mu.Unlock()
			inFlight[task]--
		},
	}

	h := newHarness(t, Options{MaxParallel: 8})
	h.register(t, track)

	// Tasks encode the level so overlap across levels is detectable.
	steps := []*plan.Step{
		plan.NewStep("a1", "level0", "tracking", nil),
		plan.NewStep("a2", "level0", "tracking", nil),
		plan.NewStep("b1", "level1", "tracking", []string{"a1", "a2"}),
		plan.NewStep("b2", "level1", "tracking", []string{"a1"}),
	}
	p := mustPlan(t, plan.ModeParallel, steps)

	_, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	<-h.events

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, observed["level0+level1"])
	require.Zero(t, observed["level1+level0"])
}

func TestEngine_ParallelSiblingFailureDoesNotCancelLevel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{MaxParallel: 4})
	h.register(t, &scripted{name: "broken", script: []scriptCall{{fail: true}}})
	sibling := &scripted{name: "fine", script: []scriptCall{{delay: 50 * time.Millisecond}}}
	h.register(t, sibling)

	steps := []*plan.Step{
		plan.NewStep("bad", "", "broken", nil),
		plan.NewStep("good", "", "fine", nil),
		plan.NewStep("downstream", "", "fine", []string{"bad"}),
	}
	p := mustPlan(t, plan.ModeParallel, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	<-h.events

	good, _ := p.Step("good")
	downstream, _ := p.Step("downstream")
	require.Equal(t, plan.StatusCompleted, good.Status)
	require.Equal(t, plan.StatusSkipped, downstream.Status)
	require.Equal(t, plan.StatusCompleted, summary.Status)
}

func TestEngine_ConditionalPredicateGatesSteps(t *testing.T) {
	t.Parallel()

	skipTagged := func(step *plan.Step, _ *plan.Plan) bool {
		return step.Description != "skip-me"
	}

	h := newHarness(t, Options{Predicate: skipTagged})
	exec := &scripted{name: "fine"}
	h.register(t, exec)

	steps := []*plan.Step{
		plan.NewStep("keep", "run-me", "fine", nil),
		plan.NewStep("drop", "skip-me", "fine", nil),
	}
	p := mustPlan(t, plan.ModeConditional, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	collected := <-h.events

	require.Equal(t, 1, summary.CompletedSteps)
	require.Equal(t, 1, summary.SkippedSteps)
	require.Equal(t, 1, exec.CallCount())

	skipEvent := findEvent(t, collected, events.StepSkipped, "drop")
	require.Equal(t, "predicate rejected step", skipEvent.Content)
}

func TestEngine_ConditionalDefaultSkipsUnmetDependencies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "broken", script: []scriptCall{{fail: true}}})
	h.register(t, &scripted{name: "fine"})

	steps := []*plan.Step{
		plan.NewStep("x", "", "broken", nil),
		plan.NewStep("y", "", "fine", []string{"x"}),
	}
	p := mustPlan(t, plan.ModeConditional, steps)

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	collected := <-h.events

	require.Equal(t, 1, summary.FailedSteps)
	require.Equal(t, 1, summary.SkippedSteps)

	skipEvent := findEvent(t, collected, events.StepSkipped, "y")
	require.Equal(t, "dependency not completed", skipEvent.Content)
}

func TestEngine_CancellationFailsNonTerminalSteps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{MaxParallel: 2})
	gate := make(chan struct{})
	h.register(t, &scripted{name: "stuck", gate: gate})
	h.register(t, &scripted{name: "fine"})

	steps := []*plan.Step{
		plan.NewStep("wedge", "", "stuck", nil),
		plan.NewStep("later", "", "fine", []string{"wedge"}),
	}
	p := mustPlan(t, plan.ModeParallel, steps)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	summary, err := h.engine.Execute(ctx, p)
	require.Error(t, err)
	<-h.events

	require.Equal(t, plan.StatusFailed, summary.Status)
	for _, step := range p.Steps {
		require.Equal(t, plan.StatusFailed, step.Status)
		var cancelled *maestroerrors.CancelledError
		require.ErrorAs(t, step.Err, &cancelled)
	}
}

func TestEngine_DependencyOutputsFlowDownstream(t *testing.T) {
	t.Parallel()

	var gotInput map[string]any
	sink := &trackingExecutor{
		begin: func(string) {},
		end:   func(string) {},
		input: func(input map[string]any) { gotInput = input },
	}

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "producer", script: []scriptCall{{output: map[string]any{"value": 7}}}})
	h.register(t, sink)

	steps := []*plan.Step{
		plan.NewStep("produce", "", "producer", nil),
		plan.NewStep("consume", "", "tracking", []string{"produce"}),
	}
	p := mustPlan(t, plan.ModeSequential, steps)

	_, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	<-h.events

	require.Contains(t, gotInput, "produce")
	require.Equal(t, 7, gotInput["produce"].(map[string]any)["value"])
}

func TestEngine_RecordsExecutionMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "fine"})

	p := mustPlan(t, plan.ModeSequential, []*plan.Step{plan.NewStep("a", "", "fine", nil)})
	_, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)
	<-h.events

	stats := h.metrics.Snapshot()
	require.EqualValues(t, 1, stats.TotalExecutions)
	require.EqualValues(t, 1, stats.SuccessfulExecutions)
}

func findEvent(t *testing.T, collected []events.Event, typ events.Type, stepID string) events.Event {
	t.Helper()
	for _, event := range collected {
		if event.Type == typ && event.StepID == stepID {
			return event
		}
	}
	t.Fatalf("no %s event for step %s", typ, stepID)
	return events.Event{}
}

func TestEngine_SecondExecuteReturnsErrorNotPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "ok"})

	first := mustPlan(t, plan.ModeSequential, []*plan.Step{plan.NewStep("a", "", "ok", nil)})
	_, err := h.engine.Execute(context.Background(), first)
	require.NoError(t, err)
	<-h.events

	second := mustPlan(t, plan.ModeSequential, []*plan.Step{plan.NewStep("a", "", "ok", nil)})
	require.NotPanics(t, func() {
		_, err = h.engine.Execute(context.Background(), second)
	})
	require.ErrorIs(t, err, ErrEngineConsumed)
	require.Equal(t, plan.StatusPending, second.Steps[0].Status)
}

func TestEngine_LogsDroppedLifecycleEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	// Fill the stream and attach no consumer so the bounded publish in
	// tryEmit has to give up.
	stream := events.NewStream(1)
	require.NoError(t, stream.Publish(context.Background(), events.Event{Type: events.StepProgress}))

	e := New(executor.NewRegistry(), stream, metrics.NewRecorder(), nil, log, Options{})
	e.tryEmit(events.Event{Type: events.PlanEnd})

	require.Contains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), string(events.PlanEnd))
}

type recordingSink struct {
	mu         sync.Mutex
	savedPlans []string
	summaries  []Summary
}

func (r *recordingSink) SavePlan(_ context.Context, p *plan.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedPlans = append(r.savedPlans, p.ID)
	return nil
}

func (r *recordingSink) SaveExecution(_ context.Context, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func TestEngine_PersistsExecutionSummary(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	h := newHarness(t, Options{})
	h.engine.history = sink

	h.register(t, &scripted{name: "ok"})
	p := mustPlan(t, plan.ModeSequential, []*plan.Step{
		plan.NewStep("a", "", "ok", nil),
	})

	summary, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)

	// The summary save is synchronous; only the plan save is async.
	sink.mu.Lock()
	summaries := append([]Summary(nil), sink.summaries...)
	sink.mu.Unlock()
	require.Len(t, summaries, 1)
	require.Equal(t, summary.PlanID, summaries[0].PlanID)
	require.Equal(t, plan.StatusCompleted, summaries[0].Status)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.savedPlans) == 1 && sink.savedPlans[0] == p.ID
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_EmitsPlanLifecycleEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.register(t, &scripted{name: "fine"})

	p := mustPlan(t, plan.ModeSequential, []*plan.Step{plan.NewStep("a", "", "fine", nil)})
	_, err := h.engine.Execute(context.Background(), p)
	require.NoError(t, err)

	collected := <-h.events
	require.Equal(t, events.PlanStart, collected[0].Type)
	require.Equal(t, events.PlanEnd, collected[len(collected)-1].Type)
}

// trackingExecutor reports call boundaries to the test.
type trackingExecutor struct {
	begin func(task string)
	end   func(task string)
	input func(map[string]any)
}

func (e *trackingExecutor) Name() string { return "tracking" }

func (e *trackingExecutor) Execute(ctx context.Context, task string, input map[string]any) (<-chan executor.Event, error) {
	if e.input != nil {
		e.input(input)
	}
	e.begin(task)
	ch := make(chan executor.Event, 1)
	go func() {
		defer close(ch)
		time.Sleep(10 * time.Millisecond)
		e.end(task)
		ch <- executor.Event{Type: executor.EventComplete, Payload: map[string]any{"task": task}}
	}()
	return ch, nil
}
