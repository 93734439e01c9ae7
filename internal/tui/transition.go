package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// FormatUseCase turns a wire topic identifier like "health_care" into
// a display label like "Health Care".
func FormatUseCase(useCase string) string {
	if useCase == "" {
		return "General"
	}
	words := strings.FieldsFunc(useCase, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func (m *Model) renderTransition() string {
	title := m.theme.TopBarTitle.Render("Thank you!")
	lines := []string{
		title,
		"",
		"Your feedback for this topic has been saved.",
		"",
		"Next topic: " + m.theme.TopBarBadge.Render(FormatUseCase(m.snap.Pending)),
	}
	prompt := m.theme.TopBarBadge.Render("Press Enter when you are ready")
	if m.snap.Loading {
		prompt = m.theme.TopBarMeta.Render("preparing the next conversation…")
	}
	lines = append(lines, "", prompt)

	width := m.width - 4
	if width > 72 {
		width = 72
	}
	body := lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Render(strings.Join(lines, "\n"))
	return m.theme.Pane.Width(width).Render(body)
}

func (m *Model) renderSurvey() string {
	if m.survey == nil {
		if m.snap.Loading {
			return m.theme.TopBarMeta.Render("loading questions…")
		}
		return m.theme.TopBarMeta.Render("questions unavailable — press Enter to retry")
	}
	return m.survey.View()
}
