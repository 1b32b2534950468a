package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"agentdash/client"
	"agentdash/config"
)

// DefaultLogLimit bounds the diagnostic event log.
const DefaultLogLimit = 200

var ErrAlreadyFinalized = errors.New("progress already finalized")

// LogEntry is one line of the diagnostic event log.
type LogEntry struct {
	At      time.Time
	Kind    client.EventType
	Message string
}

// State is a snapshot of an analysis in progress. Snapshots never share
// mutable data with the reducer.
type State struct {
	Phase   Phase
	Visited []Phase
	Step    string
	// Generating is set once output tokens start arriving.
	Generating bool
	Text       string

	StartedAt  time.Time
	FinishedAt time.Time

	// ActiveTools maps in-flight tool names to their start time.
	ActiveTools map[string]time.Time

	SecurityFindings []client.Finding
	Issues           []client.Finding
	Recommendations  []client.Finding

	Verification map[string]client.VerificationStatus
	// Verifying is the issue id currently being fixed or verified.
	Verifying string

	Done      bool
	Error     string
	Result    *client.AnalysisResult
	Summary   string
	SessionID string

	Log     []LogEntry
	Unknown int
}

// Elapsed is the run time so far, or the total once finished.
func (s State) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !s.FinishedAt.IsZero() {
		end = s.FinishedAt
	}
	return end.Sub(s.StartedAt)
}

// VerificationCounts tallies issues by verification status.
func (s State) VerificationCounts() map[client.VerificationStatus]int {
	out := make(map[client.VerificationStatus]int, len(s.Verification))
	for _, st := range s.Verification {
		out[st]++
	}
	return out
}

func (s State) HasVisited(p Phase) bool {
	return slices.Contains(s.Visited, p)
}

// Report merges the done frame's result with what was streamed. Streamed
// lists fill in whatever the final result left empty.
func (s State) Report() client.AnalysisResult {
	var out client.AnalysisResult
	if s.Result != nil {
		out = *s.Result
	}
	if len(out.SecurityFindings) == 0 {
		out.SecurityFindings = s.SecurityFindings
	}
	if len(out.CodeIssues) == 0 {
		out.CodeIssues = s.Issues
	}
	if len(out.EvolutionRecommendations) == 0 {
		out.EvolutionRecommendations = s.Recommendations
	}
	if out.Summary == "" {
		out.Summary = s.Summary
	}
	if out.SessionID == "" {
		out.SessionID = s.SessionID
	}

	issues := make([]client.Finding, len(out.CodeIssues))
	copy(issues, out.CodeIssues)
	for i, is := range issues {
		if st, ok := s.Verification[is.ID]; ok && is.ID != "" {
			issues[i].VerificationStatus = string(st)
		}
	}
	out.CodeIssues = issues
	return out
}

func (s State) clone() State {
	c := s
	c.Visited = slices.Clone(s.Visited)
	c.ActiveTools = maps.Clone(s.ActiveTools)
	c.SecurityFindings = slices.Clone(s.SecurityFindings)
	c.Issues = slices.Clone(s.Issues)
	c.Recommendations = slices.Clone(s.Recommendations)
	c.Verification = maps.Clone(s.Verification)
	c.Log = slices.Clone(s.Log)
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return c
}

// Outcome is what Finalize resolves to. State is populated on every path,
// including failures, so partial results stay inspectable.
type Outcome struct {
	State  State
	Report client.AnalysisResult
}

type Option func(*Reducer)

func WithClock(now func() time.Time) Option {
	return func(r *Reducer) { r.now = now }
}

func WithLogLimit(n int) Option {
	return func(r *Reducer) {
		if n > 0 {
			r.logLimit = n
		}
	}
}

// Reducer folds stream events into State in arrival order. Apply is meant to
// be called from one goroutine; Snapshot and Subscribe are safe from any.
type Reducer struct {
	mu        sync.Mutex
	state     State
	now       func() time.Time
	logLimit  int
	index     map[client.ResultType]map[string]int
	doneErr   string
	finalized bool

	subs    map[int]func(State)
	nextSub int
}

func NewReducer(opts ...Option) *Reducer {
	r := &Reducer{
		now:      time.Now,
		logLimit: DefaultLogLimit,
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

func (r *Reducer) reset() {
	r.state = State{
		Phase:        PhaseInit,
		Visited:      []Phase{PhaseInit},
		ActiveTools:  make(map[string]time.Time),
		Verification: make(map[string]client.VerificationStatus),
	}
	r.index = make(map[client.ResultType]map[string]int)
	r.doneErr = ""
	r.finalized = false
}

// Reset clears everything for a new analysis. Subscribers stay attached.
func (r *Reducer) Reset() {
	r.mu.Lock()
	r.reset()
	snap := r.state.clone()
	r.mu.Unlock()
	r.notify(snap)
}

func (r *Reducer) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Subscribe registers fn to receive a snapshot after every applied event.
// fn runs on the goroutine calling Apply.
func (r *Reducer) Subscribe(fn func(State)) (cancel func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Reducer) notify(snap State) {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.subs))
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Terminal reports whether a done or error frame has been applied.
func (r *Reducer) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Phase.Terminal()
}

// Apply folds one event into the state.
func (r *Reducer) Apply(ev client.Event) {
	r.mu.Lock()
	now := r.now()
	if r.state.StartedAt.IsZero() {
		r.state.StartedAt = now
	}
	r.apply(ev, now)
	snap := r.state.clone()
	r.mu.Unlock()

	r.notify(snap)
}

func (r *Reducer) apply(ev client.Event, now time.Time) {
	s := &r.state

	if s.Phase.Terminal() {
		if _, ok := ev.(*client.StartEvent); !ok {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Progress] ignoring %s after %s", ev.Type(), s.Phase)
			}
			return
		}
	}

	switch e := ev.(type) {
	case *client.StartEvent:
		r.reset()
		r.state.StartedAt = now
		r.state.SessionID = e.SessionID
		r.state.Step = firstNonEmpty(e.Message, "Starting")
		r.log(now, e.Type(), r.state.Step)

	case *client.ThinkingEvent:
		if e.Message != "" {
			s.Step = e.Message
		}
		r.advance(e.Phase)
		r.log(now, e.Type(), e.Message)

	case *client.ToolStartEvent:
		s.ActiveTools[e.Tool] = now
		info, known := knownTools[e.Tool]
		if e.Phase != "" {
			r.advance(e.Phase)
		} else if known {
			r.advance(string(info.phase))
		}

		step := e.Message
		if step == "" && known {
			step = info.step
			if e.IssueID != "" {
				step = fmt.Sprintf("%s %s", info.step, e.IssueID)
			}
		}
		if step == "" {
			step = "Running " + e.Tool
		}
		s.Step = step

		if e.IssueID != "" {
			switch e.Tool {
			case "generate_fix":
				s.Verifying = e.IssueID
				r.setVerification(e.IssueID, client.VerificationGenerating)
			case "verify_issue":
				s.Verifying = e.IssueID
				r.setVerification(e.IssueID, client.VerificationRunning)
			}
		}
		r.log(now, e.Type(), step)

	case *client.ToolResultEvent:
		delete(s.ActiveTools, e.Tool)
		if e.Phase != "" {
			r.advance(e.Phase)
		}

		switch e.Subtype {
		case client.ResultSecurity:
			r.add(e.Subtype, &s.SecurityFindings, e.Finding)
		case client.ResultIssue:
			r.add(e.Subtype, &s.Issues, e.Finding)
			if e.Finding != nil && e.Finding.ID != "" {
				initial := client.VerificationPending
				if st := client.ParseVerificationStatus(e.Finding.VerificationStatus); st.Rank() >= 0 {
					initial = st
				}
				r.setVerification(e.Finding.ID, initial)
			}
		case client.ResultRecommendation:
			r.add(e.Subtype, &s.Recommendations, e.Finding)
		case client.ResultVerification:
			if e.IssueID != "" && e.Status != "" {
				r.setVerification(e.IssueID, e.Status)
				if e.Status.Terminal() && s.Verifying == e.IssueID {
					s.Verifying = ""
				}
			}
		}
		r.log(now, e.Type(), firstNonEmpty(e.Message, string(e.Subtype), e.Tool))

	case *client.TokenEvent:
		s.Generating = true
		s.Text += e.Content

	case *client.CheckpointEvent:
		if e.Message != "" {
			r.log(now, e.Type(), e.Message)
		}

	case *client.HeartbeatEvent:

	case *client.ErrorEvent:
		s.Phase = PhaseError
		s.Error = e.Message
		s.Step = e.Message
		s.FinishedAt = now
		clear(s.ActiveTools)
		r.log(now, e.Type(), e.Message)
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Progress] error frame: %s", e.Message)
		}

	case *client.DoneEvent:
		s.Phase = PhaseDone
		if !s.HasVisited(PhaseDone) {
			s.Visited = append(s.Visited, PhaseDone)
		}
		s.Done = true
		s.FinishedAt = now
		s.Result = e.Result
		s.Summary = firstNonEmpty(e.Message, s.Text)
		if e.SessionID != "" {
			s.SessionID = e.SessionID
		}
		s.Step = "Complete"
		s.Verifying = ""
		clear(s.ActiveTools)
		r.doneErr = e.Error
		r.log(now, e.Type(), s.Summary)

	case *client.UnknownEvent:
		s.Unknown++
		r.log(now, e.Type(), "unknown event")
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Progress] ignoring unknown event type %q", e.Kind)
		}
	}
}

// advance moves to a newly seen phase unless that would go backwards.
func (r *Reducer) advance(name string) {
	if name == "" {
		return
	}
	p, ok := NormalizePhase(name)
	if !ok {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Progress] unknown phase %q", name)
		}
		return
	}
	// Only done and error frames finish a run
	if p.Terminal() {
		return
	}

	s := &r.state
	if s.HasVisited(p) {
		return
	}
	s.Visited = append(s.Visited, p)
	if p.Rank() >= s.Phase.Rank() {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Progress] phase %s -> %s", s.Phase, p)
		}
		s.Phase = p
	}
}

// setVerification moves an issue forward; backward moves are dropped.
func (r *Reducer) setVerification(issueID string, next client.VerificationStatus) {
	if next.Rank() < 0 {
		return
	}
	cur, ok := r.state.Verification[issueID]
	if ok && next.Rank() <= cur.Rank() {
		if next != cur && config.DebugLog != nil {
			config.DebugLog.Printf("[Progress] ignoring verification %s -> %s for %s", cur, next, issueID)
		}
		return
	}
	r.state.Verification[issueID] = next
}

// add appends a record. A record whose id was already seen updates the
// earlier one in place; fields it leaves empty keep their earlier values.
func (r *Reducer) add(kind client.ResultType, list *[]client.Finding, f *client.Finding) {
	if f == nil {
		return
	}
	if f.ID == "" {
		*list = append(*list, *f)
		return
	}
	idx := r.index[kind]
	if idx == nil {
		idx = make(map[string]int)
		r.index[kind] = idx
	}
	if i, ok := idx[f.ID]; ok {
		(*list)[i] = mergeFinding((*list)[i], *f)
		return
	}
	idx[f.ID] = len(*list)
	*list = append(*list, *f)
}

func mergeFinding(prev, next client.Finding) client.Finding {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&prev.Severity, next.Severity)
	str(&prev.Category, next.Category)
	str(&prev.Title, next.Title)
	str(&prev.Description, next.Description)
	str(&prev.FilePath, next.FilePath)
	str(&prev.SuggestedFix, next.SuggestedFix)
	str(&prev.VerificationStatus, next.VerificationStatus)
	if next.Line != 0 {
		prev.Line = next.Line
	}
	if len(next.Extra) > 0 {
		extra := make(map[string]any, len(prev.Extra)+len(next.Extra))
		maps.Copy(extra, prev.Extra)
		maps.Copy(extra, next.Extra)
		prev.Extra = extra
	}
	return prev
}

func (r *Reducer) log(now time.Time, kind client.EventType, msg string) {
	r.state.Log = append(r.state.Log, LogEntry{At: now, Kind: kind, Message: msg})
	if over := len(r.state.Log) - r.logLimit; over > 0 {
		r.state.Log = slices.Delete(r.state.Log, 0, over)
	}
}

// Finalize resolves the run exactly once. After a done frame it returns the
// outcome; after an error frame an *client.AgentError; otherwise the stream
// ended early and the error is a *client.StreamAbortedError, unless the
// caller cancelled. The outcome always carries the state reached.
func (r *Reducer) Finalize(streamErr error) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return Outcome{}, ErrAlreadyFinalized
	}
	r.finalized = true
	if r.state.FinishedAt.IsZero() {
		r.state.FinishedAt = r.now()
	}

	snap := r.state.clone()
	out := Outcome{State: snap, Report: snap.Report()}

	switch {
	case snap.Done && r.doneErr != "":
		return out, &client.AgentError{Message: r.doneErr}
	case snap.Done:
		return out, nil
	case snap.Phase == PhaseError:
		return out, &client.AgentError{Message: snap.Error}
	}

	var aborted *client.StreamAbortedError
	switch {
	case errors.As(streamErr, &aborted):
		return out, streamErr
	case errors.Is(streamErr, context.Canceled):
		return out, streamErr
	case streamErr == nil || errors.Is(streamErr, io.EOF):
		return out, &client.StreamAbortedError{Cause: io.ErrUnexpectedEOF}
	default:
		return out, &client.StreamAbortedError{
			TimedOut: errors.Is(streamErr, context.DeadlineExceeded),
			Cause:    streamErr,
		}
	}
}

// Run applies every event from s until a terminal frame or the end of the
// stream, then finalizes. The stream is closed on return.
func (r *Reducer) Run(s *client.EventStream) (Outcome, error) {
	defer s.Close()

	var streamErr error
	for {
		ev, err := s.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		r.Apply(ev)
		if r.Terminal() {
			break
		}
	}
	return r.Finalize(streamErr)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
