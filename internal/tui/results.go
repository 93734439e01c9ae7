package tui

import (
	"fmt"
	"strings"
	"time"

	"study-client/internal/study"

	"github.com/charmbracelet/lipgloss"
)

func (m *Model) renderResults() string {
	sum := m.store.Summary()

	title := m.theme.Done.Render("✓ Study complete — thank you for taking part!")
	lines := []string{title, ""}

	lines = append(lines, SummaryLines(sum)...)
	lines = append(lines, "", m.theme.TopBarMeta.Render("Your responses have been recorded."))
	lines = append(lines, m.theme.TopBarBadge.Render("Press Enter to exit"))

	width := m.width - 4
	if width > 72 {
		width = 72
	}
	body := lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Render(strings.Join(lines, "\n"))
	return m.theme.Pane.Width(width).Render(body)
}

// SummaryLines renders the run summary as plain lines, one per fact.
func SummaryLines(sum study.Summary) []string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Duration        %s", formatDuration(sum.Duration)))
	lines = append(lines, fmt.Sprintf("Conversations   %d", len(sum.Topics)))
	lines = append(lines, fmt.Sprintf("Messages        %d", sum.TotalMessages))
	if sum.AverageRating > 0 {
		lines = append(lines, fmt.Sprintf("Average rating  %.1f / 5", sum.AverageRating))
	}
	for _, topic := range sum.Topics {
		entry := fmt.Sprintf("  • %s — %d messages", FormatUseCase(topic.UseCase), topic.MessageCount)
		if topic.AverageRating > 0 {
			entry += fmt.Sprintf(", rated %.1f", topic.AverageRating)
		}
		lines = append(lines, entry)
	}
	return lines
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "—"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
}
