package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type HealthInfo struct {
	Status       string         `json:"status"`
	Model        string         `json:"model"`
	Secured      bool           `json:"secured"`
	Version      string         `json:"version,omitempty"`
	Capabilities Capabilities   `json:"capabilities,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// Capabilities accepts either a list of names or an object of name -> bool.
type Capabilities []string

func (c *Capabilities) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*c = list
		return nil
	}

	var flags map[string]any
	if err := json.Unmarshal(data, &flags); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	out := make([]string, 0, len(flags))
	for name, v := range flags {
		if enabled, ok := v.(bool); ok && !enabled {
			continue
		}
		out = append(out, name)
	}
	*c = out
	return nil
}

func (c Capabilities) Has(name string) bool {
	for _, n := range c {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

type AgentRequest struct {
	Task          string `json:"task"`
	SessionID     string `json:"session_id,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type AgentResult struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	Iterations int        `json:"iterations"`
	SessionID  string     `json:"session_id"`
	Completed  bool       `json:"completed"`
	Error      string     `json:"error,omitempty"`
}

// Warning reports in-band problems with an otherwise successful turn.
func (r AgentResult) Warning() error {
	if strings.TrimSpace(r.Error) != "" {
		return &AgentError{Message: r.Error}
	}
	if !r.Completed {
		return &IncompleteError{Iterations: r.Iterations}
	}
	return nil
}

type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type SessionInfo struct {
	ID           string `json:"session_id"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
}

func (s *SessionInfo) UnmarshalJSON(data []byte) error {
	type plain SessionInfo
	var aux struct {
		plain
		AltID        string `json:"id"`
		LastActivity string `json:"last_activity"`
		Turns        int    `json:"turns"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SessionInfo(aux.plain)
	if s.ID == "" {
		s.ID = aux.AltID
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = aux.LastActivity
	}
	if s.MessageCount == 0 {
		s.MessageCount = aux.Turns
	}
	return nil
}

type AnalyzeRequest struct {
	RepoURL    string `json:"repo_url"`
	Focus      string `json:"focus,omitempty"`
	Branch     string `json:"branch,omitempty"`
	PathFilter string `json:"path_filter,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

type VerifiedAnalyzeRequest struct {
	RepoURL           string `json:"repo_url"`
	Focus             string `json:"focus,omitempty"`
	Branch            string `json:"branch,omitempty"`
	Verify            bool   `json:"verify"`
	MaxIssuesToVerify int    `json:"max_issues_to_verify,omitempty"`
}

type FullAnalysisRequest struct {
	RepoURL              string   `json:"repo_url"`
	RunSecurityScan      bool     `json:"run_security_scan"`
	RunCodeAnalysis      bool     `json:"run_code_analysis"`
	RunEvolutionAnalysis bool     `json:"run_evolution_analysis"`
	EvolutionFocus       []string `json:"evolution_focus"`
	MaxIssuesToVerify    int      `json:"max_issues_to_verify"`
}

type AsyncJobRequest struct {
	RepoURL    string `json:"repo_url"`
	Focus      string `json:"focus,omitempty"`
	Verify     bool   `json:"verify,omitempty"`
	Branch     string `json:"branch,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Finding is one reported item: a security finding, a code issue or an
// evolution recommendation. Fields the client does not know are kept in Extra.
type Finding struct {
	ID                 string
	Severity           string
	Category           string
	Title              string
	Description        string
	FilePath           string
	Line               int
	SuggestedFix       string
	VerificationStatus string
	Extra              map[string]any
}

var findingKeys = map[string][]string{
	"id":                  {"id", "issue_id", "finding_id"},
	"severity":            {"severity", "priority"},
	"category":            {"category", "type", "kind"},
	"title":               {"title", "name", "summary"},
	"description":         {"description", "message", "details"},
	"file_path":           {"file_path", "file", "path", "location"},
	"line":                {"line", "line_number", "start_line"},
	"suggested_fix":       {"suggested_fix", "fix", "recommendation", "suggestion"},
	"verification_status": {"verification_status", "status"},
}

func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	used := make(map[string]bool)
	pick := func(field string) json.RawMessage {
		for _, k := range findingKeys[field] {
			if v, ok := raw[k]; ok && scalarString(v) != "" {
				used[k] = true
				return v
			}
		}
		return nil
	}

	*f = Finding{
		ID:                 scalarString(pick("id")),
		Severity:           strings.ToLower(scalarString(pick("severity"))),
		Category:           scalarString(pick("category")),
		Title:              scalarString(pick("title")),
		Description:        scalarString(pick("description")),
		FilePath:           scalarString(pick("file_path")),
		SuggestedFix:       scalarString(pick("suggested_fix")),
		VerificationStatus: strings.ToLower(scalarString(pick("verification_status"))),
	}
	if n, err := strconv.Atoi(scalarString(pick("line"))); err == nil {
		f.Line = n
	}

	for k, v := range raw {
		if used[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			if f.Extra == nil {
				f.Extra = make(map[string]any)
			}
			f.Extra[k] = val
		}
	}
	return nil
}

func (f Finding) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+9)
	for k, v := range f.Extra {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("id", f.ID)
	set("severity", f.Severity)
	set("category", f.Category)
	set("title", f.Title)
	set("description", f.Description)
	set("file_path", f.FilePath)
	set("suggested_fix", f.SuggestedFix)
	set("verification_status", f.VerificationStatus)
	if f.Line > 0 {
		out["line"] = f.Line
	}
	return json.Marshal(out)
}

// Heading is the best short label for the finding.
func (f Finding) Heading() string {
	switch {
	case f.Title != "":
		return f.Title
	case f.Category != "":
		return f.Category
	case f.Description != "":
		first, _, _ := strings.Cut(f.Description, "\n")
		return first
	default:
		return "(untitled)"
	}
}

// Location renders "path:line" or just the path.
func (f Finding) Location() string {
	if f.FilePath == "" {
		return ""
	}
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.FilePath, f.Line)
	}
	return f.FilePath
}

// AnalysisResult is the structured result of an analysis, from /v3/analyze,
// a done frame or a completed job.
type AnalysisResult struct {
	RepoURL                  string    `json:"repo_url,omitempty"`
	OverallHealthScore       *float64  `json:"overall_health_score,omitempty"`
	SecurityFindings         []Finding `json:"security_findings,omitempty"`
	CodeIssues               []Finding `json:"code_issues,omitempty"`
	EvolutionRecommendations []Finding `json:"evolution_recommendations,omitempty"`
	ExecutiveSummary         string    `json:"executive_summary,omitempty"`
	Summary                  string    `json:"summary,omitempty"`
	SessionID                string    `json:"session_id,omitempty"`
}

func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	type plain AnalysisResult
	var aux struct {
		plain
		Issues          []Finding `json:"issues"`
		Findings        []Finding `json:"findings"`
		Recommendations []Finding `json:"recommendations"`
		HealthScore     *float64  `json:"health_score"`
		Text            string    `json:"text"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = AnalysisResult(aux.plain)
	if len(r.CodeIssues) == 0 {
		r.CodeIssues = aux.Issues
	}
	if len(r.SecurityFindings) == 0 {
		r.SecurityFindings = aux.Findings
	}
	if len(r.EvolutionRecommendations) == 0 {
		r.EvolutionRecommendations = aux.Recommendations
	}
	if r.OverallHealthScore == nil {
		r.OverallHealthScore = aux.HealthScore
	}
	if r.Summary == "" {
		r.Summary = aux.Text
	}
	return nil
}

// Empty reports whether the result carries nothing structured.
func (r AnalysisResult) Empty() bool {
	return r.OverallHealthScore == nil &&
		len(r.SecurityFindings) == 0 &&
		len(r.CodeIssues) == 0 &&
		len(r.EvolutionRecommendations) == 0 &&
		r.ExecutiveSummary == "" &&
		r.Summary == ""
}

// Structured reports whether the result carries more than a text summary.
func (r AnalysisResult) Structured() bool {
	return r.OverallHealthScore != nil ||
		len(r.SecurityFindings) > 0 ||
		len(r.CodeIssues) > 0 ||
		len(r.EvolutionRecommendations) > 0 ||
		r.ExecutiveSummary != ""
}

// HealthScoreText formats the score without a trailing ".0", e.g. "73".
func (r AnalysisResult) HealthScoreText() string {
	if r.OverallHealthScore == nil {
		return ""
	}
	return strconv.FormatFloat(*r.OverallHealthScore, 'f', -1, 64)
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type JobSubmission struct {
	JobID            string   `json:"job_id"`
	Status           JobState `json:"status"`
	StatusURL        string   `json:"status_url"`
	EstimatedSeconds int      `json:"estimated_seconds"`
}

type JobStatus struct {
	JobID       string          `json:"job_id"`
	Status      JobState        `json:"status"`
	CreatedAt   string          `json:"created_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
	Progress    *JobProgress    `json:"progress,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// JobProgress accepts either a bare percentage or an object.
type JobProgress struct {
	Percent float64 `json:"percent"`
	Phase   string  `json:"phase,omitempty"`
	Message string  `json:"message,omitempty"`
}

func (p *JobProgress) UnmarshalJSON(data []byte) error {
	var pct float64
	if err := json.Unmarshal(data, &pct); err == nil {
		*p = JobProgress{Percent: pct}
		return nil
	}
	var aux struct {
		Percent    *float64 `json:"percent"`
		Percentage *float64 `json:"percentage"`
		Phase      string   `json:"phase"`
		Stage      string   `json:"stage"`
		Message    string   `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("job progress: %w", err)
	}
	*p = JobProgress{Phase: aux.Phase, Message: aux.Message}
	if p.Phase == "" {
		p.Phase = aux.Stage
	}
	switch {
	case aux.Percent != nil:
		p.Percent = *aux.Percent
	case aux.Percentage != nil:
		p.Percent = *aux.Percentage
	}
	return nil
}

func (p *JobProgress) String() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if p.Percent > 0 {
		parts = append(parts, strconv.FormatFloat(p.Percent, 'f', -1, 64)+"%")
	}
	if p.Phase != "" {
		parts = append(parts, p.Phase)
	}
	if p.Message != "" {
		parts = append(parts, p.Message)
	}
	return strings.Join(parts, " ")
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// scalarString renders a JSON string, number or bool as text.
func scalarString(v json.RawMessage) string {
	if len(v) == 0 || isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
