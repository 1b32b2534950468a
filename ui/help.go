package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

func (a AppView) renderHelpModal() string {
	green := lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)
	blue := lipgloss.NewStyle().Foreground(accentColor)

	line := func(b key.Binding) string {
		h := b.Help()
		return fmt.Sprintf("• %-13s %s", h.Key, h.Desc)
	}

	actions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Keys"),
		line(keys.Send),
		line(keys.Newline),
		line(keys.Cancel),
		line(keys.SwitchView),
		line(keys.CopyReply),
		line(keys.CopyReport),
		line(keys.Export),
		line(keys.ScrollUp),
		line(keys.ScrollDown),
		line(keys.ToggleDebug),
		line(keys.Help),
		line(keys.Quit),
	)

	commands := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Commands"),
		"• /analyze <url> [v3|verified|full] [async]",
		"• /export [path]   Save the last report as Markdown",
		"• /new             Forget the session and clear history",
		"• /session <id>    Resume a backend session",
		"• /tools           List backend tools",
		"• /quit            Leave",
	)

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		green.Render("agentdash - Keyboard Shortcuts"),
		"",
		actions,
		"",
		commands,
		"",
		DimStyle.Render("Press any key to close"),
	)
	return ModalStyle.Render(content)
}
