package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"agentdash/client"
	"agentdash/config"
	appmodel "agentdash/model"
)

const flashDuration = 3 * time.Second

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if appmodel.IsPipeClosed(msg) {
		return a, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		first := !a.ready
		a.ready = true
		a.refresh(true)

		var cmds []tea.Cmd
		if a.reportRendered != "" && a.outcome != nil {
			cmds = append(cmds, renderReportCmd(a.outcome, a.analysisOpts, a.width))
		}
		if first && a.pendingAnalyze != nil {
			opts := *a.pendingAnalyze
			a.pendingAnalyze = nil
			cmds = append(cmds, a.startAnalysis(opts))
		}
		return a, tea.Batch(cmds...)

	case tea.KeyMsg:
		return a.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.busy() {
			a.refresh(false)
		}
		return a, cmd

	case appmodel.HealthCheckedMsg:
		if msg.Err != nil {
			a.dataModel.Connected = false
			a.dataModel.Health = nil
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] health check failed: %v", msg.Err)
			}
			return a, nil
		}
		info := msg.Info
		a.dataModel.Connected = true
		a.dataModel.Health = &info
		// An empty list means the backend does not advertise capabilities
		if a.stream && len(info.Capabilities) > 0 && !info.Capabilities.Has("streaming") {
			a.stream = false
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] backend does not advertise streaming, using blocking turns")
			}
		}
		if info.Secured && !a.dataModel.Client.HasAPIKey() {
			return a.setFlash("Backend requires an API key: run `agentdash auth login`", true)
		}
		return a, nil

	case appmodel.TurnEventMsg:
		a.refresh(true)
		return a, a.turnPipe.Listen()

	case appmodel.TurnDoneMsg:
		return a.handleTurnDone(msg)

	case appmodel.MarkdownRenderedMsg:
		a.dataModel.Conversation.SetRendered(msg.MessageID, msg.Rendered)
		a.refresh(false)
		return a, nil

	case appmodel.AnalysisUpdateMsg:
		a.analysis = msg.State
		a.refresh(a.view == viewAnalysis)
		return a, a.analysisPipe.Listen()

	case appmodel.JobProgressMsg:
		st := msg.Status
		a.job = &st
		a.refresh(false)
		return a, a.analysisPipe.Listen()

	case appmodel.AnalysisDoneMsg:
		return a.handleAnalysisDone(msg)

	case reportRenderedMsg:
		a.reportRendered = msg.Rendered
		a.refresh(false)
		return a, nil

	case appmodel.ToolsListMsg:
		if msg.Err != nil {
			return a.setFlash(client.UserMessage(msg.Err), true)
		}
		a.tools = msg.Tools
		a.showTools = true
		return a, nil

	case appmodel.ClipboardCopiedMsg:
		if msg.Err != nil {
			return a.setFlash("Copy failed: "+msg.Err.Error(), true)
		}
		return a.setFlash("Copied "+msg.What+" to clipboard", false)

	case appmodel.ReportExportedMsg:
		if msg.Err != nil {
			return a.setFlash("Export failed: "+msg.Err.Error(), true)
		}
		return a.setFlash("Report saved to "+msg.Path, false)

	case appmodel.FlashTickMsg:
		if msg.Seq == a.flashSeq {
			a.flash = ""
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.showHelp || a.showTools {
		a.showHelp = false
		a.showTools = false
		return a, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		a.cancelAll()
		a.dataModel.Quitting = true
		return a, tea.Quit

	case key.Matches(msg, keys.Help):
		a.showHelp = true
		return a, nil

	case key.Matches(msg, keys.Cancel):
		switch {
		case a.dataModel.Streaming && a.cancelTurn != nil:
			a.cancelTurn()
			return a.setFlash("Cancelling turn...", false)
		case a.dataModel.Analyzing && a.cancelAnalysis != nil:
			a.cancelAnalysis()
			return a.setFlash("Cancelling analysis...", false)
		}
		return a, nil

	case key.Matches(msg, keys.SwitchView):
		if a.view == viewChat {
			a.view = viewAnalysis
		} else {
			a.view = viewChat
		}
		a.refresh(true)
		return a, nil

	case key.Matches(msg, keys.ToggleDebug):
		a.showLog = !a.showLog
		a.refresh(false)
		return a, nil

	case key.Matches(msg, keys.CopyReply):
		msgs := a.dataModel.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == appmodel.RoleAssistant {
				return a, copyCmd("reply", msgs[i].Content)
			}
		}
		return a.setFlash("No reply to copy", true)

	case key.Matches(msg, keys.CopyReport):
		if a.outcome == nil {
			return a.setFlash("No report yet", true)
		}
		return a, copyCmd("report", reportMarkdown(a.outcome, a.analysisOpts))

	case key.Matches(msg, keys.Export):
		if a.outcome == nil {
			return a.setFlash("No report yet", true)
		}
		return a, exportCmd(a.outcome, a.analysisOpts, "")

	case key.Matches(msg, keys.ScrollUp):
		a.viewport.HalfPageUp()
		return a, nil

	case key.Matches(msg, keys.ScrollDown):
		a.viewport.HalfPageDown()
		return a, nil

	case key.Matches(msg, keys.Send):
		input := strings.TrimSpace(a.textarea.Value())
		if input == "" {
			return a, nil
		}
		if strings.HasPrefix(input, "/") {
			a.textarea.Reset()
			return a.runSlashCommand(input)
		}
		if a.dataModel.Streaming {
			return a.setFlash(appmodel.ErrBusy.Error(), true)
		}
		a.textarea.Reset()
		return a, a.sendTurn(input)
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

func (a *AppView) sendTurn(task string) tea.Cmd {
	ctx, cancel := context.WithCancel(a.ctx)
	a.cancelTurn = cancel
	a.dataModel.Streaming = true
	a.view = viewChat
	a.turnPipe = a.dataModel.SendTurn(ctx, task, a.stream)
	a.refresh(true)
	return a.turnPipe.Listen()
}

func (a AppView) handleTurnDone(msg appmodel.TurnDoneMsg) (tea.Model, tea.Cmd) {
	a.dataModel.Streaming = false
	if a.cancelTurn != nil {
		a.cancelTurn()
		a.cancelTurn = nil
	}
	a.refresh(true)

	var cmds []tea.Cmd
	if msg.Reply.ID != "" && msg.Reply.Content != "" {
		cmds = append(cmds, renderMarkdownCmd(msg.Reply.ID, msg.Reply.Content, a.width))
	}
	if msg.Err != nil {
		var unreachable *client.UnreachableError
		if errors.As(msg.Err, &unreachable) {
			a.dataModel.Connected = false
		}
		m, cmd := a.setFlash(client.UserMessage(msg.Err), !isWarning(msg.Err))
		return m, tea.Batch(append(cmds, cmd)...)
	}
	a.dataModel.Connected = true
	return a, tea.Batch(cmds...)
}

func (a *AppView) startAnalysis(opts appmodel.AnalysisOptions) tea.Cmd {
	if a.cancelAnalysis != nil {
		a.cancelAnalysis()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.cancelAnalysis = cancel
	a.analysisOpts = opts
	a.dataModel.Analyzing = true
	a.outcome = nil
	a.analysisErr = nil
	a.job = nil
	a.reportRendered = ""
	a.view = viewAnalysis
	a.analysisPipe = a.dataModel.StartAnalysis(ctx, opts)
	a.refresh(true)
	return a.analysisPipe.Listen()
}

func (a AppView) handleAnalysisDone(msg appmodel.AnalysisDoneMsg) (tea.Model, tea.Cmd) {
	a.dataModel.Analyzing = false
	if a.cancelAnalysis != nil {
		a.cancelAnalysis()
		a.cancelAnalysis = nil
	}
	out := msg.Outcome
	a.outcome = &out
	a.analysis = out.State
	a.analysisErr = msg.Err
	a.refresh(true)

	cmds := []tea.Cmd{renderReportCmd(a.outcome, a.analysisOpts, a.width)}
	if msg.Err != nil {
		m, cmd := a.setFlash(client.UserMessage(msg.Err), !isWarning(msg.Err))
		return m, tea.Batch(append(cmds, cmd)...)
	}
	m, cmd := a.setFlash(fmt.Sprintf("Analysis complete in %s", out.State.Elapsed(time.Now()).Round(time.Second)), false)
	return m, tea.Batch(append(cmds, cmd)...)
}

func (a AppView) runSlashCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		a.cancelAll()
		a.dataModel.Quitting = true
		return a, tea.Quit

	case "/help":
		a.showHelp = true
		return a, nil

	case "/new":
		if err := a.dataModel.Conversation.Reset(); err != nil {
			return a.setFlash(err.Error(), true)
		}
		a.refresh(true)
		return a.setFlash("Started a new session", false)

	case "/session":
		if len(args) != 1 {
			return a.setFlash("usage: /session <id>", true)
		}
		a.dataModel.Conversation.SetSessionID(args[0])
		return a.setFlash("Resuming session "+args[0], false)

	case "/tools":
		return a, a.dataModel.ListTools(a.ctx)

	case "/analyze":
		opts, err := parseAnalyzeArgs(args)
		if err != nil {
			return a.setFlash(err.Error(), true)
		}
		if a.dataModel.Analyzing {
			return a.setFlash("an analysis is already running (Esc cancels it)", true)
		}
		return a, a.startAnalysis(opts)

	case "/export":
		if a.outcome == nil {
			return a.setFlash("No report yet", true)
		}
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return a, exportCmd(a.outcome, a.analysisOpts, path)

	default:
		return a.setFlash("unknown command "+cmd+" (try /help)", true)
	}
}

// parseAnalyzeArgs reads "<repo-url> [v3|verified|full] [async]".
func parseAnalyzeArgs(args []string) (appmodel.AnalysisOptions, error) {
	if len(args) == 0 {
		return appmodel.AnalysisOptions{}, errors.New("usage: /analyze <repo-url> [v3|verified|full] [async]")
	}
	opts := appmodel.AnalysisOptions{RepoURL: args[0], Mode: appmodel.ModeFull}
	for _, arg := range args[1:] {
		if strings.EqualFold(arg, "async") {
			opts.Async = true
			continue
		}
		mode, err := appmodel.ParseAnalysisMode(arg)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	return opts, opts.Validate()
}

func (a AppView) setFlash(text string, isErr bool) (AppView, tea.Cmd) {
	a.flash = text
	a.flashIsErr = isErr
	a.flashSeq++
	seq := a.flashSeq
	return a, tea.Tick(flashDuration, func(time.Time) tea.Msg {
		return appmodel.FlashTickMsg{Seq: seq}
	})
}

// isWarning reports in-band problems that still come with a usable result.
func isWarning(err error) bool {
	var incomplete *client.IncompleteError
	return errors.As(err, &incomplete)
}
