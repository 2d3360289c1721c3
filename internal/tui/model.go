package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/maestro-run/maestro/internal/events"
)

// EventMsg wraps one streaming event for the Bubbletea loop.
type EventMsg struct {
	Event events.Event
}

// StreamClosedMsg signals that the engine closed the event stream.
type StreamClosedMsg struct{}

// stepState is the render state of one step.
type stepState struct {
	id       string
	executor string
	status   string
	note     string
	retries  int
}

// Model is the Bubbletea state for the execution progress view.
type Model struct {
	query     string
	stream    <-chan events.Event
	spinner   spinner.Model
	steps     map[string]*stepState
	order     []string
	completed int
	failed    int
	skipped   int
	done      bool
	cancelled bool
}

// NewModel builds a progress view fed by the given event stream.
func NewModel(query string, stream <-chan events.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		query:   query,
		stream:  stream,
		spinner: sp,
		steps:   make(map[string]*stepState),
	}
}

// Init starts the spinner and the stream reader.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.stream))
}

// Done reports whether the stream finished.
func (m Model) Done() bool {
	return m.done
}

// Cancelled reports whether the user interrupted the run.
func (m Model) Cancelled() bool {
	return m.cancelled
}

// waitForEvent reads the next stream event as a Bubbletea command.
func waitForEvent(stream <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, open := <-stream
		if !open {
			return StreamClosedMsg{}
		}
		return EventMsg{Event: event}
	}
}

func (m *Model) ensureStep(id, executor string) *stepState {
	if state, ok := m.steps[id]; ok {
		return state
	}
	state := &stepState{id: id, executor: executor, status: "pending"}
	m.steps[id] = state
	m.order = append(m.order, id)
	return state
}
