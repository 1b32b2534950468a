package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventStart      EventType = "start"
	EventThinking   EventType = "thinking"
	EventToken      EventType = "token"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventCheckpoint EventType = "checkpoint"
	EventHeartbeat  EventType = "heartbeat"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// ResultType classifies a tool_result frame.
type ResultType string

const (
	ResultGeneric        ResultType = ""
	ResultSecurity       ResultType = "security_finding"
	ResultIssue          ResultType = "issue"
	ResultRecommendation ResultType = "recommendation_found"
	ResultVerification   ResultType = "verification"
)

// resultAliases maps every subtype spelling the backend uses, either as the
// frame type or as result_type, to one ResultType.
var resultAliases = map[string]ResultType{
	"security_finding":     ResultSecurity,
	"finding":              ResultSecurity,
	"issue":                ResultIssue,
	"issue_found":          ResultIssue,
	"code_issue":           ResultIssue,
	"recommendation":       ResultRecommendation,
	"recommendation_found": ResultRecommendation,
	"verification":         ResultVerification,
	"verification_result":  ResultVerification,
}

// VerificationStatus is the per-issue verification lifecycle.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationGenerating VerificationStatus = "generating"
	VerificationRunning    VerificationStatus = "running"
	VerificationVerified   VerificationStatus = "verified"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationError      VerificationStatus = "error"
)

// Rank orders statuses along pending -> generating -> running -> terminal.
// Unknown statuses rank -1.
func (s VerificationStatus) Rank() int {
	switch s {
	case VerificationPending:
		return 0
	case VerificationGenerating:
		return 1
	case VerificationRunning:
		return 2
	case VerificationVerified, VerificationUnverified, VerificationError:
		return 3
	default:
		return -1
	}
}

func (s VerificationStatus) Terminal() bool {
	return s.Rank() == 3
}

func ParseVerificationStatus(s string) VerificationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued":
		return VerificationPending
	case "generating", "generating_fix":
		return VerificationGenerating
	case "running", "verifying", "testing":
		return VerificationRunning
	case "verified", "confirmed", "passed":
		return VerificationVerified
	case "unverified", "not_verified", "rejected", "failed":
		return VerificationUnverified
	case "error":
		return VerificationError
	default:
		return VerificationStatus(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Event is one decoded SSE frame. The set of implementations is closed; frames
// with an unrecognized type decode to *UnknownEvent.
type Event interface {
	Type() EventType
	isEvent()
}

type StartEvent struct {
	Message   string
	SessionID string
	Phase     string
}

type ThinkingEvent struct {
	Phase     string
	Message   string
	Iteration int
}

type TokenEvent struct {
	Content string
}

type ToolStartEvent struct {
	Tool      string
	Phase     string
	Message   string
	Arguments map[string]any
	IssueID   string
}

type ToolResultEvent struct {
	Tool    string
	Phase   string
	Message string
	Subtype ResultType
	// Finding is set for security, issue and recommendation subtypes.
	Finding *Finding
	// IssueID and Status are set for verification results.
	IssueID string
	Status  VerificationStatus
	Success *bool
	Result  json.RawMessage
}

type CheckpointEvent struct {
	Phase   string
	Message string
}

type HeartbeatEvent struct{}

type ErrorEvent struct {
	Phase   string
	Message string
}

type DoneEvent struct {
	Message    string
	SessionID  string
	Iterations int
	Completed  *bool
	Error      string
	ToolCalls  []ToolCall
	// Result is set when the frame carried structured analysis output.
	Result *AnalysisResult
}

type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (*StartEvent) Type() EventType      { return EventStart }
func (*ThinkingEvent) Type() EventType   { return EventThinking }
func (*TokenEvent) Type() EventType      { return EventToken }
func (*ToolStartEvent) Type() EventType  { return EventToolStart }
func (*ToolResultEvent) Type() EventType { return EventToolResult }
func (*CheckpointEvent) Type() EventType { return EventCheckpoint }
func (*HeartbeatEvent) Type() EventType  { return EventHeartbeat }
func (*ErrorEvent) Type() EventType      { return EventError }
func (*DoneEvent) Type() EventType       { return EventDone }
func (e *UnknownEvent) Type() EventType  { return EventType(e.Kind) }

func (*StartEvent) isEvent()      {}
func (*ThinkingEvent) isEvent()   {}
func (*TokenEvent) isEvent()      {}
func (*ToolStartEvent) isEvent()  {}
func (*ToolResultEvent) isEvent() {}
func (*CheckpointEvent) isEvent() {}
func (*HeartbeatEvent) isEvent()  {}
func (*ErrorEvent) isEvent()      {}
func (*DoneEvent) isEvent()       {}
func (*UnknownEvent) isEvent()    {}

// frame is the union of every payload field the backend sends. Loosely typed
// fields stay raw so one odd value cannot reject the whole frame.
type frame struct {
	Type       string          `json:"type"`
	Phase      string          `json:"phase"`
	Message    string          `json:"message"`
	Content    string          `json:"content"`
	Text       string          `json:"text"`
	Token      string          `json:"token"`
	Tool       string          `json:"tool"`
	Name       string          `json:"name"`
	ToolName   string          `json:"tool_name"`
	Arguments  map[string]any  `json:"arguments"`
	Args       map[string]any  `json:"args"`
	IssueID    json.RawMessage `json:"issue_id"`
	Status     json.RawMessage `json:"status"`
	ResultType string          `json:"result_type"`
	Subtype    string          `json:"subtype"`
	Result     json.RawMessage `json:"result"`
	Error      json.RawMessage `json:"error"`
	SessionID  string          `json:"session_id"`
	Iteration  int             `json:"iteration"`
	Iterations int             `json:"iterations"`
	Completed  *bool           `json:"completed"`
	Success    *bool           `json:"success"`
	ToolCalls  []ToolCall      `json:"tool_calls"`

	Finding        json.RawMessage `json:"finding"`
	Issue          json.RawMessage `json:"issue"`
	Recommendation json.RawMessage `json:"recommendation"`
}

func (f *frame) text() string {
	for _, s := range []string{f.Message, f.Content, f.Text, f.Token} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (f *frame) tool() string {
	for _, s := range []string{f.Tool, f.ToolName, f.Name} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (f *frame) args() map[string]any {
	if f.Arguments != nil {
		return f.Arguments
	}
	return f.Args
}

// DecodeEvent parses one SSE data payload. It fails only when the payload is
// not a JSON object with a string type; unknown types yield *UnknownEvent.
func DecodeEvent(payload []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, &FrameError{Payload: string(payload), Err: err}
	}
	kind := strings.ToLower(strings.TrimSpace(f.Type))
	if kind == "" {
		return nil, &FrameError{Payload: string(payload), Err: fmt.Errorf("missing type")}
	}

	if sub, ok := resultAliases[kind]; ok {
		return decodeToolResult(&f, sub, payload), nil
	}

	switch EventType(kind) {
	case EventStart:
		return &StartEvent{Message: f.text(), SessionID: f.SessionID, Phase: f.Phase}, nil
	case EventThinking:
		return &ThinkingEvent{Phase: f.Phase, Message: f.text(), Iteration: f.Iteration}, nil
	case EventToken:
		content := f.Content
		if content == "" {
			content = f.Token
		}
		if content == "" {
			content = f.Text
		}
		return &TokenEvent{Content: content}, nil
	case EventToolStart:
		args := f.args()
		return &ToolStartEvent{
			Tool:      f.tool(),
			Phase:     f.Phase,
			Message:   f.text(),
			Arguments: args,
			IssueID:   firstNonEmpty(scalarString(f.IssueID), argString(args, "issue_id")),
		}, nil
	case EventToolResult:
		return decodeToolResult(&f, ResultGeneric, payload), nil
	case EventCheckpoint:
		return &CheckpointEvent{Phase: f.Phase, Message: f.text()}, nil
	case EventHeartbeat:
		return &HeartbeatEvent{}, nil
	case EventError:
		msg := firstNonEmpty(errorText(f.Error), f.text())
		if msg == "" {
			msg = "unknown error"
		}
		return &ErrorEvent{Phase: f.Phase, Message: msg}, nil
	case EventDone:
		return decodeDone(&f, payload), nil
	default:
		return &UnknownEvent{Kind: kind, Raw: append(json.RawMessage(nil), payload...)}, nil
	}
}

func decodeToolResult(f *frame, sub ResultType, payload []byte) *ToolResultEvent {
	ev := &ToolResultEvent{
		Tool:    f.tool(),
		Phase:   f.Phase,
		Message: f.text(),
		Success: f.Success,
		Result:  f.Result,
	}

	if sub == ResultGeneric {
		if s, ok := resultAliases[strings.ToLower(firstNonEmpty(f.ResultType, f.Subtype))]; ok {
			sub = s
		}
	}
	if sub == ResultGeneric {
		// verify_issue frames may echo the issue record; the tool decides
		switch {
		case f.tool() == "verify_issue":
			sub = ResultVerification
		case len(f.Finding) > 0 && !isNull(f.Finding):
			sub = ResultSecurity
		case len(f.Issue) > 0 && !isNull(f.Issue):
			sub = ResultIssue
		case len(f.Recommendation) > 0 && !isNull(f.Recommendation):
			sub = ResultRecommendation
		}
	}
	ev.Subtype = sub

	switch sub {
	case ResultSecurity, ResultIssue, ResultRecommendation:
		ev.Finding = decodeFinding(f, sub)
		if ev.Finding == nil {
			// The record may be the frame itself
			ev.Finding = inlineFinding(payload)
		}
	case ResultVerification:
		var nested struct {
			IssueID  json.RawMessage `json:"issue_id"`
			Status   json.RawMessage `json:"status"`
			Verified *bool           `json:"verified"`
		}
		if len(f.Result) > 0 {
			_ = json.Unmarshal(f.Result, &nested)
		}
		var issue Finding
		if len(f.Issue) > 0 {
			_ = json.Unmarshal(f.Issue, &issue)
		}
		ev.IssueID = firstNonEmpty(scalarString(f.IssueID), scalarString(nested.IssueID), issue.ID)

		status := firstNonEmpty(scalarString(f.Status), scalarString(nested.Status))
		if status == "" && nested.Verified != nil {
			status = string(VerificationUnverified)
			if *nested.Verified {
				status = string(VerificationVerified)
			}
		}
		if status == "" && f.Success != nil && !*f.Success {
			status = string(VerificationError)
		}
		if status != "" {
			ev.Status = ParseVerificationStatus(status)
		}
	}
	return ev
}

func decodeFinding(f *frame, sub ResultType) *Finding {
	order := []json.RawMessage{f.Finding, f.Issue, f.Recommendation}
	switch sub {
	case ResultIssue:
		order = []json.RawMessage{f.Issue, f.Finding, f.Recommendation}
	case ResultRecommendation:
		order = []json.RawMessage{f.Recommendation, f.Finding, f.Issue}
	}
	for _, raw := range append(order, f.Result) {
		if len(raw) == 0 || isNull(raw) {
			continue
		}
		var fd Finding
		if err := json.Unmarshal(raw, &fd); err == nil {
			return &fd
		}
	}
	return nil
}

func inlineFinding(payload []byte) *Finding {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}
	for _, k := range []string{"type", "phase", "tool", "result_type", "subtype"} {
		delete(raw, k)
	}
	stripped, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var fd Finding
	if err := json.Unmarshal(stripped, &fd); err != nil {
		return nil
	}
	return &fd
}

func decodeDone(f *frame, payload []byte) *DoneEvent {
	ev := &DoneEvent{
		Message:    f.text(),
		SessionID:  f.SessionID,
		Iterations: f.Iterations,
		Completed:  f.Completed,
		Error:      errorText(f.Error),
		ToolCalls:  f.ToolCalls,
	}

	var res AnalysisResult
	if len(f.Result) > 0 && !isNull(f.Result) && json.Unmarshal(f.Result, &res) == nil && res.Structured() {
		ev.Result = &res
	} else if json.Unmarshal(payload, &res) == nil && res.Structured() {
		ev.Result = &res
	}
	if ev.Result != nil && ev.Message == "" {
		ev.Message = firstNonEmpty(ev.Result.ExecutiveSummary, ev.Result.Summary)
	}
	if ev.Message == "" && len(f.Result) > 0 {
		ev.Message = scalarString(f.Result)
	}
	return ev
}

// errorText accepts "error": "msg", {"message": "msg"} or {"detail": "msg"}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	if s := scalarString(raw); s != "" {
		if s == "false" {
			return ""
		}
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Message, obj.Detail)
	}
	return ""
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
