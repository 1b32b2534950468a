package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agentdash/client"
	appmodel "agentdash/model"
	"agentdash/progress"
)

type viewMode int

const (
	viewChat viewMode = iota
	viewAnalysis
)

// Options configure a new AppView.
type Options struct {
	// Stream sends chat turns over SSE instead of one request/response.
	Stream bool
	// Analyze, if set, starts this analysis as soon as the view opens.
	Analyze *appmodel.AnalysisOptions
}

type AppView struct {
	// Reference to core data model
	dataModel *appmodel.Model
	ctx       context.Context

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// Window state
	width  int
	height int
	ready  bool

	view     viewMode
	showHelp bool
	showLog  bool
	stream   bool

	// In-flight chat turn
	turnPipe   *appmodel.Pipe
	cancelTurn context.CancelFunc

	// Analysis
	analysisPipe   *appmodel.Pipe
	cancelAnalysis context.CancelFunc
	analysisOpts   appmodel.AnalysisOptions
	pendingAnalyze *appmodel.AnalysisOptions
	analysis       progress.State
	job            *client.JobStatus
	outcome        *progress.Outcome
	analysisErr    error
	reportRendered string

	// Tools modal
	tools     []client.ToolInfo
	showTools bool

	// Status bar flash
	flash      string
	flashIsErr bool
	flashSeq   int
}

func NewAppView(ctx context.Context, dataModel *appmodel.Model, opts Options) AppView {
	ta := textarea.New()
	ta.Placeholder = "Ask the agent, or /analyze <repo-url> [v3|verified|full] [async]"
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Enter sends; Alt+Enter inserts a newline
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	a := AppView{
		dataModel:      dataModel,
		ctx:            ctx,
		viewport:       viewport.New(0, 0),
		textarea:       ta,
		spinner:        sp,
		stream:         opts.Stream,
		pendingAnalyze: opts.Analyze,
	}
	if opts.Analyze != nil {
		a.view = viewAnalysis
	}
	return a
}

func (a AppView) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textarea.Blink,
		a.spinner.Tick,
		a.dataModel.CheckHealth(a.ctx),
	}
	return tea.Batch(cmds...)
}

// busy reports whether a turn or an analysis is running.
func (a AppView) busy() bool {
	return a.dataModel.Streaming || a.dataModel.Analyzing || a.dataModel.Conversation.Busy()
}

func (a *AppView) cancelAll() {
	if a.cancelTurn != nil {
		a.cancelTurn()
	}
	if a.cancelAnalysis != nil {
		a.cancelAnalysis()
	}
}

func (a *AppView) layout() {
	headerHeight := 2
	inputHeight := a.textarea.Height() + 1
	statusHeight := 1

	a.textarea.SetWidth(a.width)
	a.viewport.Width = a.width
	a.viewport.Height = max(a.height-headerHeight-inputHeight-statusHeight, 3)
}
