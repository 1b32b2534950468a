package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"agentdash/client"
)

// severityOrder ranks severities for grouping; unknown values sort last.
var severityOrder = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
	"info":     4,
}

func severityRank(s string) int {
	if r, ok := severityOrder[strings.ToLower(s)]; ok {
		return r
	}
	return len(severityOrder)
}

// Meta is report context the result itself may not carry.
type Meta struct {
	RepoURL   string
	Generated time.Time
	// Partial marks a report built from a stream that did not finish.
	Partial bool
}

// Markdown renders an analysis result. Findings are grouped by severity, then
// by category, each group in server order.
func Markdown(res client.AnalysisResult, meta Meta) string {
	var b strings.Builder

	repo := cmp.Or(meta.RepoURL, res.RepoURL)
	if repo != "" {
		fmt.Fprintf(&b, "# Analysis report: %s\n\n", repo)
	} else {
		b.WriteString("# Analysis report\n\n")
	}
	if !meta.Generated.IsZero() {
		fmt.Fprintf(&b, "_Generated %s_\n\n", meta.Generated.Format("2006-01-02 15:04:05"))
	}
	if meta.Partial {
		b.WriteString("> **Partial results.** The analysis did not finish; the lists below are what was reported before it stopped.\n\n")
	}

	if score := res.HealthScoreText(); score != "" {
		fmt.Fprintf(&b, "**Overall health score:** %s/100\n\n", score)
	}

	summary := cmp.Or(res.ExecutiveSummary, res.Summary)
	if summary != "" {
		b.WriteString("## Executive summary\n\n")
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n\n")
	}

	if Count(res) == 0 {
		b.WriteString("_No findings reported._\n")
		return b.String()
	}

	writeSection(&b, "Security findings", res.SecurityFindings)
	writeSection(&b, "Code issues", res.CodeIssues)
	writeSection(&b, "Evolution recommendations", res.EvolutionRecommendations)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Count is the number of findings, issues and recommendations in res.
func Count(res client.AnalysisResult) int {
	return len(res.SecurityFindings) + len(res.CodeIssues) + len(res.EvolutionRecommendations)
}

func writeSection(b *strings.Builder, title string, findings []client.Finding) {
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(findings))
	if len(findings) == 0 {
		b.WriteString("None.\n\n")
		return
	}

	for _, sev := range groupBySeverity(findings) {
		fmt.Fprintf(b, "### %s\n\n", severityLabel(sev.name))
		for _, cat := range groupByCategory(sev.items) {
			if cat.name != "" {
				fmt.Fprintf(b, "#### %s\n\n", cat.name)
			}
			for _, f := range cat.items {
				writeFinding(b, f)
			}
			b.WriteString("\n")
		}
	}
}

func writeFinding(b *strings.Builder, f client.Finding) {
	fmt.Fprintf(b, "- **%s**", f.Heading())
	if loc := f.Location(); loc != "" {
		fmt.Fprintf(b, " `%s`", loc)
	}
	if f.VerificationStatus != "" {
		fmt.Fprintf(b, " _[%s]_", f.VerificationStatus)
	}
	b.WriteString("\n")

	if f.Description != "" && f.Description != f.Heading() {
		for _, line := range strings.Split(strings.TrimSpace(f.Description), "\n") {
			fmt.Fprintf(b, "  %s\n", line)
		}
	}
	if f.SuggestedFix != "" {
		b.WriteString("\n  Suggested fix:\n\n")
		b.WriteString("  ```\n")
		for _, line := range strings.Split(strings.TrimRight(f.SuggestedFix, "\n"), "\n") {
			fmt.Fprintf(b, "  %s\n", line)
		}
		b.WriteString("  ```\n")
	}
}

type group struct {
	name  string
	items []client.Finding
}

func groupBySeverity(findings []client.Finding) []group {
	groups := groupBy(findings, func(f client.Finding) string { return strings.ToLower(f.Severity) })
	slices.SortStableFunc(groups, func(a, b group) int {
		return cmp.Compare(severityRank(a.name), severityRank(b.name))
	})
	return groups
}

func groupByCategory(findings []client.Finding) []group {
	return groupBy(findings, func(f client.Finding) string { return f.Category })
}

// groupBy keeps first-seen order of keys and of items within a key.
func groupBy(findings []client.Finding, key func(client.Finding) string) []group {
	var groups []group
	index := make(map[string]int)
	for _, f := range findings {
		k := key(f)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{name: k})
		}
		groups[i].items = append(groups[i].items, f)
	}
	return groups
}

func severityLabel(s string) string {
	if s == "" {
		return "Unrated"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
