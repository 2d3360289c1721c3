package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/maestro-run/maestro/internal/events"
)

// Update handles Bubbletea messages and advances the render state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.apply(msg.Event)
		return m, waitForEvent(m.stream)
	case StreamClosedMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancelled = true
			return m, tea.Quit
		}
		return m, nil
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m *Model) apply(event events.Event) {
	switch event.Type {
	case events.StepStart:
		state := m.ensureStep(event.StepID, event.Executor)
		state.status = "running"
		state.note = event.Content
	case events.StepProgress:
		state := m.ensureStep(event.StepID, event.Executor)
		state.note = event.Content
	case events.StepRetry:
		state := m.ensureStep(event.StepID, event.Executor)
		state.retries++
		state.note = event.Content
	case events.ToolStart:
		state := m.ensureStep(event.StepID, event.Executor)
		state.note = "tool: " + event.Content
	case events.StepEnd:
		state := m.ensureStep(event.StepID, event.Executor)
		state.status = "completed"
		state.note = ""
		m.completed++
	case events.StepError:
		state := m.ensureStep(event.StepID, event.Executor)
		state.status = "failed"
		state.note = event.Content
		m.failed++
	case events.StepSkipped:
		state := m.ensureStep(event.StepID, event.Executor)
		state.status = "skipped"
		state.note = event.Content
		m.skipped++
	}
}
