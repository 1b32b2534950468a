package ui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"agentdash/client"
	appmodel "agentdash/model"
	"agentdash/progress"
	"agentdash/report"
)

func (a AppView) View() string {
	if !a.ready {
		return "Loading agentdash..."
	}

	if a.showHelp {
		return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, a.renderHelpModal())
	}
	if a.showTools {
		return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, a.renderToolsModal())
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		a.renderHeader(),
		"",
		a.viewport.View(),
		a.textarea.View(),
		a.renderStatusBar(),
	)
}

// refresh rebuilds the viewport for the current view.
func (a *AppView) refresh(gotoBottom bool) {
	if !a.ready {
		return
	}
	switch a.view {
	case viewAnalysis:
		a.viewport.SetContent(a.renderAnalysis())
	default:
		a.viewport.SetContent(a.renderChat())
	}
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func (a AppView) renderHeader() string {
	title := TitleStyle.Render("agentdash")

	conn := lipgloss.NewStyle().Foreground(warningColor).Bold(true).Render("⚠ Disconnected")
	if a.dataModel.Connected {
		conn = SuccessStyle.Render("● Connected")
		if h := a.dataModel.Health; h != nil && h.Model != "" {
			conn += DimStyle.Render(" (" + h.Model + ")")
		}
	}

	session := ""
	if id := a.dataModel.Conversation.SessionID(); id != "" {
		session = DimStyle.Render(" | session " + shortID(id))
	}

	tab := "Chat"
	if a.view == viewAnalysis {
		tab = "Analysis"
	}
	return fmt.Sprintf("%s | %s | %s%s", title, HighlightStyle.Render(tab), conn, session)
}

func (a AppView) renderStatusBar() string {
	if a.flash != "" {
		if a.flashIsErr {
			return ErrorStyle.Render(a.flash)
		}
		return SuccessStyle.Render(a.flash)
	}

	parts := []string{"Enter", "Send", "Tab", "Chat/Analysis", "Esc", "Cancel", "Alt+Y", "Copy"}
	if a.outcome != nil {
		parts = append(parts, "Alt+E", "Export")
	}
	parts = append(parts, "Alt+H", "Help", "Alt+Q", "Quit")
	return StatusStyle.Render(FormatFooter(parts...))
}

func (a AppView) renderChat() string {
	msgs := a.dataModel.Messages()
	if len(msgs) == 0 {
		return DimStyle.Render("No messages yet. Ask the agent something, or type /analyze <repo-url>.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		ts := DimStyle.Render(msg.Timestamp.Format("15:04:05"))

		switch msg.Role {
		case appmodel.RoleUser:
			fmt.Fprintf(&b, "%s %s\n", UserStyle.Render("You"), ts)
			b.WriteString(wrap(msg.Content, a.width-2))
			b.WriteString("\n")

		case appmodel.RoleAssistant:
			fmt.Fprintf(&b, "%s %s\n", AssistantStyle.Bold(true).Render("Agent"), ts)
			for _, tc := range msg.ToolCalls {
				b.WriteString(DimStyle.Render("  ⚙ "+tc.Name+formatArgs(tc.Arguments)) + "\n")
			}
			switch {
			case msg.Rendered != "":
				b.WriteString(msg.Rendered)
			case msg.Content != "":
				b.WriteString(wrap(msg.Content, a.width-2))
				b.WriteString("\n")
			}
			inFlight := a.dataModel.Streaming && i == len(msgs)-1
			if warn := msg.Warning(); warn != nil && !inFlight {
				b.WriteString(WarningStyle.Render("⚠ "+client.UserMessage(warn)) + "\n")
			}
			if msg.Iterations > 0 {
				b.WriteString(DimStyle.Render(fmt.Sprintf("  %d iteration(s)", msg.Iterations)) + "\n")
			}
		}
	}

	if a.dataModel.Streaming {
		last := msgs[len(msgs)-1]
		if last.Role == appmodel.RoleUser || last.Content == "" {
			b.WriteString("\n" + a.spinner.View() + DimStyle.Render(" Agent is working..."))
		}
	}
	return b.String()
}

func (a AppView) renderAnalysis() string {
	st := a.analysis
	if st.StartedAt.IsZero() && a.outcome == nil && !a.dataModel.Analyzing {
		return DimStyle.Render("No analysis yet. Type /analyze <repo-url> [v3|verified|full] [async].")
	}

	var b strings.Builder
	repo := a.analysisOpts.RepoURL
	fmt.Fprintf(&b, "%s %s\n", TitleStyle.Render("Repository:"), repo)
	mode := string(a.analysisOpts.Mode)
	if a.analysisOpts.Async {
		mode += ", async"
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n\n",
		TitleStyle.Render("Mode:"), mode,
		TitleStyle.Render("Elapsed:"), st.Elapsed(time.Now()).Round(time.Second))

	b.WriteString(renderPipeline(st))
	b.WriteString("\n\n")

	step := st.Step
	if step == "" {
		step = "Waiting for the backend..."
	}
	if a.dataModel.Analyzing {
		b.WriteString(a.spinner.View() + " " + step + "\n")
	} else if st.Phase == progress.PhaseError {
		b.WriteString(ErrorStyle.Render("✗ "+step) + "\n")
	} else {
		b.WriteString(step + "\n")
	}
	if a.job != nil {
		line := fmt.Sprintf("Job %s: %s", a.job.JobID, a.job.Status)
		if p := a.job.Progress.String(); p != "" {
			line += " (" + p + ")"
		}
		b.WriteString(DimStyle.Render(line) + "\n")
	}
	if len(st.ActiveTools) > 0 {
		names := make([]string, 0, len(st.ActiveTools))
		for name := range st.ActiveTools {
			names = append(names, name)
		}
		slices.Sort(names)
		b.WriteString(DimStyle.Render("Running: "+strings.Join(names, ", ")) + "\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %d   %s %d   %s %d\n",
		ErrorStyle.Render("Security findings:"), len(st.SecurityFindings),
		WarningStyle.Render("Code issues:"), len(st.Issues),
		AssistantStyle.Render("Recommendations:"), len(st.Recommendations))

	if len(st.Verification) > 0 {
		b.WriteString(renderVerification(st))
	}

	if a.analysisErr != nil {
		b.WriteString("\n" + WarningStyle.Render("⚠ "+client.UserMessage(a.analysisErr)) + "\n")
	}

	switch {
	case a.reportRendered != "":
		b.WriteString("\n" + a.reportRendered)
	case a.outcome == nil:
		findings := slices.Concat(st.SecurityFindings, st.Issues)
		if len(findings) > 0 {
			b.WriteString("\n" + report.Table(findings, a.width-2))
		}
	}

	if a.showLog && len(st.Log) > 0 {
		b.WriteString("\n" + TitleStyle.Render("Event log") + "\n")
		start := max(len(st.Log)-20, 0)
		for _, e := range st.Log[start:] {
			fmt.Fprintf(&b, "%s %-12s %s\n", DimStyle.Render(e.At.Format("15:04:05")), e.Kind, e.Message)
		}
	}
	return b.String()
}

// renderPipeline draws the phase trail, e.g. "✓ Cloning → ● Security scan → Code analysis".
func renderPipeline(st progress.State) string {
	var parts []string
	for _, p := range progress.Pipeline {
		label := p.Label()
		switch {
		case p == st.Phase && p == progress.PhaseDone:
			parts = append(parts, SuccessStyle.Render("✓ "+label))
		case p == st.Phase:
			parts = append(parts, HighlightStyle.Render("● "+label))
		case st.HasVisited(p):
			parts = append(parts, SuccessStyle.Render("✓ "+label))
		default:
			parts = append(parts, DimStyle.Render(label))
		}
	}
	if st.Phase == progress.PhaseError {
		parts = append(parts, ErrorStyle.Render("✗ "+progress.PhaseError.Label()))
	}
	return strings.Join(parts, DimStyle.Render(" → "))
}

func renderVerification(st progress.State) string {
	counts := st.VerificationCounts()
	order := []client.VerificationStatus{
		client.VerificationPending,
		client.VerificationGenerating,
		client.VerificationRunning,
		client.VerificationVerified,
		client.VerificationUnverified,
		client.VerificationError,
	}
	var parts []string
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, VerificationStyle(s).Render(fmt.Sprintf("%s %d", s, n)))
		}
	}
	line := TitleStyle.Render("Verification: ") + strings.Join(parts, "  ")
	if st.Verifying != "" {
		line += DimStyle.Render("  (now: " + st.Verifying + ")")
	}
	return line + "\n"
}

func (a AppView) renderToolsModal() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Backend tools") + "\n\n")
	if len(a.tools) == 0 {
		b.WriteString(DimStyle.Render("The backend reported no tools.") + "\n")
	}
	for _, t := range a.tools {
		fmt.Fprintf(&b, "%s  %s\n", HighlightStyle.Render(t.Name), t.Description)
	}
	b.WriteString("\n" + DimStyle.Render("Press any key to close"))
	return ModalStyle.Width(min(a.width-4, 90)).Render(b.String())
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func wrap(text string, width int) string {
	if width < 10 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}
