package tui

import (
	"fmt"
	"strings"
)

// View renders the current execution state.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("maestro: " + m.query))
	b.WriteString("\n\n")

	for _, id := range m.order {
		state := m.steps[id]

		var marker string
		switch state.status {
		case "completed":
			marker = successStyle.Render("✓")
		case "failed":
			marker = failureStyle.Render("✗")
		case "skipped":
			marker = skippedStyle.Render("→")
		case "running":
			marker = m.spinner.View()
		default:
			marker = pendingStyle.Render("○")
		}

		line := fmt.Sprintf("%s %s", marker, state.id)
		if state.executor != "" {
			line += pendingStyle.Render(" [" + state.executor + "]")
		}
		if state.retries > 0 {
			line += noteStyle.Render(fmt.Sprintf(" (retry %d)", state.retries))
		}
		b.WriteString(line)
		b.WriteString("\n")

		if state.note != "" {
			b.WriteString(noteStyle.Render("    " + state.note))
			b.WriteString("\n")
		}
	}

	total := len(m.order)
	if total > 0 {
		b.WriteString("\n")
		summary := fmt.Sprintf("%d/%d steps succeeded", m.completed, total)
		if m.failed > 0 {
			summary += failureStyle.Render(fmt.Sprintf(", %d failed", m.failed))
		}
		if m.skipped > 0 {
			summary += skippedStyle.Render(fmt.Sprintf(", %d skipped", m.skipped))
		}
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return b.String()
}
