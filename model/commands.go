package model

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"agentdash/client"
	"agentdash/progress"
)

// Pipe carries messages from a background operation to the bubbletea loop.
// The UI calls Listen again after every message until the pipe closes.
type Pipe struct {
	ch chan tea.Msg
}

func newPipe() *Pipe {
	return &Pipe{ch: make(chan tea.Msg, 64)}
}

// Listen waits for the next message. A closed pipe yields a message
// IsPipeClosed recognizes.
func (p *Pipe) Listen() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-p.ch
		if !ok {
			return pipeClosedMsg{}
		}
		return msg
	}
}

// IsPipeClosed reports whether msg marks the end of a pipe.
func IsPipeClosed(msg tea.Msg) bool {
	_, ok := msg.(pipeClosedMsg)
	return ok
}

func (p *Pipe) send(ctx context.Context, msg tea.Msg) {
	select {
	case p.ch <- msg:
	case <-ctx.Done():
	}
}

func (m *Model) CheckHealth(ctx context.Context) tea.Cmd {
	c := m.Client
	return func() tea.Msg {
		info, err := c.Health(ctx)
		return HealthCheckedMsg{Info: info, Err: err}
	}
}

func (m *Model) ListTools(ctx context.Context) tea.Cmd {
	c := m.Client
	return func() tea.Msg {
		tools, err := c.ListTools(ctx)
		return ToolsListMsg{Tools: tools, Err: err}
	}
}

// SendTurn submits task on a goroutine. Streamed events and the final
// TurnDoneMsg arrive through the returned pipe.
func (m *Model) SendTurn(ctx context.Context, task string, stream bool) *Pipe {
	conv := m.Conversation
	p := newPipe()

	go func() {
		defer close(p.ch)

		var reply Message
		var err error
		if stream {
			reply, err = conv.SubmitStream(ctx, task, func(ev client.Event) {
				p.send(ctx, TurnEventMsg{Event: ev})
			})
		} else {
			reply, err = conv.Submit(ctx, task)
		}
		// Always deliver the result, even after cancellation
		p.ch <- TurnDoneMsg{Reply: reply, Err: err}
	}()
	return p
}

// StartAnalysis runs an analysis on a goroutine. Reducer snapshots, job
// statuses and the final AnalysisDoneMsg arrive through the returned pipe.
func (m *Model) StartAnalysis(ctx context.Context, opts AnalysisOptions) *Pipe {
	c := m.Client
	r := m.Analysis
	interval := m.Config.PollInterval
	if opts.Fallback == "" {
		opts.Fallback = m.Config.StreamFallback
	}
	p := newPipe()

	go func() {
		defer close(p.ch)

		out, err := RunAnalysis(ctx, c, r, opts, interval, AnalysisHooks{
			OnState: func(s progress.State) {
				p.sendLatest(ctx, AnalysisUpdateMsg{State: s})
			},
			OnJob: func(js client.JobStatus) {
				p.send(ctx, JobProgressMsg{Status: js})
			},
		})
		p.ch <- AnalysisDoneMsg{Outcome: out, Err: err}
	}()
	return p
}

// sendLatest drops the update when the UI is behind; a newer snapshot
// supersedes it anyway.
func (p *Pipe) sendLatest(ctx context.Context, msg tea.Msg) {
	select {
	case p.ch <- msg:
	case <-ctx.Done():
	default:
	}
}
