package model

import (
	"agentdash/client"
	"agentdash/progress"
)

type HealthCheckedMsg struct {
	Info client.HealthInfo
	Err  error
}

type TurnEventMsg struct {
	Event client.Event
}

type TurnDoneMsg struct {
	Reply Message
	Err   error
}

type AnalysisUpdateMsg struct {
	State progress.State
}

type JobProgressMsg struct {
	Status client.JobStatus
}

type AnalysisDoneMsg struct {
	Outcome progress.Outcome
	Err     error
}

type MarkdownRenderedMsg struct {
	MessageID string
	Rendered  string
}

type ToolsListMsg struct {
	Tools []client.ToolInfo
	Err   error
}

type ReportExportedMsg struct {
	Path string
	Err  error
}

type ClipboardCopiedMsg struct {
	What string
	Err  error
}

// FlashTickMsg clears a status flash; stale ticks carry an older Seq.
type FlashTickMsg struct {
	Seq int
}

// pipeClosedMsg ends a Listen chain.
type pipeClosedMsg struct{}
