package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const landingCopy = `You are about to take part in a short research study on
conversational assistants.

Here is how it works:

  1. A few questions about you and your expectations.
  2. One or more conversations with an assistant, each around a
     given everyday topic.
  3. A short feedback form after each conversation.

Your answers and conversations are recorded for research purposes
only. The whole session takes about 15 minutes.`

func (m *Model) renderLanding() string {
	title := m.theme.TopBarTitle.Render("Welcome")
	body := lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Render(landingCopy)
	prompt := m.theme.TopBarBadge.Render("Press Enter to begin")
	if m.snap.Loading {
		prompt = m.theme.TopBarMeta.Render("setting things up…")
	}

	inner := strings.Join([]string{title, "", body, "", prompt}, "\n")
	width := m.width - 4
	if width > 72 {
		width = 72
	}
	return m.theme.Pane.Width(width).Render(inner)
}
