package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	userLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("86")).
				Bold(true)

	suggestionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func (m Model) View() string {
	if !m.ready {
		return "starting up..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("teller"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(inputStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.statusLine()))
	return b.String()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	for i, msg := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case roleUser:
			b.WriteString(userLabelStyle.Render("you"))
		case roleAssistant:
			b.WriteString(assistantLabelStyle.Render("teller"))
		}
		b.WriteString(" ")
		b.WriteString(msg.Content)
		if len(msg.Suggestions) > 0 {
			b.WriteString("\n")
			b.WriteString(suggestionStyle.Render("try: " + strings.Join(msg.Suggestions, " | ")))
		}
	}
	return b.String()
}
