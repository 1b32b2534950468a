package ui

import (
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"agentdash/config"
	appmodel "agentdash/model"
	"agentdash/progress"
	"agentdash/report"
)

type reportRenderedMsg struct {
	Rendered string
}

func renderMarkdownCmd(messageID, content string, width int) tea.Cmd {
	return func() tea.Msg {
		return appmodel.MarkdownRenderedMsg{
			MessageID: messageID,
			Rendered:  report.Terminal(content, width-4),
		}
	}
}

func reportMarkdown(out *progress.Outcome, opts appmodel.AnalysisOptions) string {
	return report.Markdown(out.Report, report.Meta{
		RepoURL:   opts.RepoURL,
		Generated: out.State.FinishedAt,
		Partial:   !out.State.Done,
	})
}

func renderReportCmd(out *progress.Outcome, opts appmodel.AnalysisOptions, width int) tea.Cmd {
	md := reportMarkdown(out, opts)
	return func() tea.Msg {
		return reportRenderedMsg{Rendered: report.Terminal(md, width-4)}
	}
}

func copyCmd(what, text string) tea.Cmd {
	return func() tea.Msg {
		err := clipboard.WriteAll(text)
		if err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[UI] clipboard write failed: %v", err)
		}
		return appmodel.ClipboardCopiedMsg{What: what, Err: err}
	}
}

// exportCmd writes the Markdown report. An empty path picks the default
// export location.
func exportCmd(out *progress.Outcome, opts appmodel.AnalysisOptions, path string) tea.Cmd {
	md := reportMarkdown(out, opts)
	return func() tea.Msg {
		if path == "" {
			path = report.ExportPath(opts.RepoURL, ".md", time.Now())
		}
		if err := report.Write(path, []byte(md)); err != nil {
			return appmodel.ReportExportedMsg{Err: err}
		}
		return appmodel.ReportExportedMsg{Path: path}
	}
}
