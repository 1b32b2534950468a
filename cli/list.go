package cli

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"agentdash/client"
)

var (
	toolsFilter    string
	sessionsFilter string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the agent can call",
	RunE:  runTools,
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List backend chat sessions",
	Long: `List backend chat sessions. Continue one with
agentdash ask --session <id> or /session <id> in the dashboard.`,
	RunE: runSessions,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsFilter, "filter", "f", "", "fuzzy-match tool names")
	sessionsCmd.Flags().StringVarP(&sessionsFilter, "filter", "f", "", "fuzzy-match session ids")
}

// fuzzyFilter keeps the items whose key matches query, best match first. An
// empty query keeps everything in the original order.
func fuzzyFilter[T any](query string, items []T, key func(T) string) []T {
	if query == "" {
		return items
	}
	targets := make([]string, len(items))
	for i, it := range items {
		targets[i] = key(it)
	}
	matches := fuzzy.Find(query, targets)
	out := make([]T, len(matches))
	for i, match := range matches {
		out[i] = items[match.Index]
	}
	return out
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	tools, err := a.client.ListTools(cmd.Context())
	if err != nil {
		return err
	}
	tools = fuzzyFilter(toolsFilter, tools, func(t client.ToolInfo) string { return t.Name })

	out := cmd.OutOrStdout()
	if len(tools) == 0 {
		fmt.Fprintln(out, styleHint.Render("No tools."))
		return nil
	}

	nameWidth := 0
	for _, t := range tools {
		nameWidth = max(nameWidth, runewidth.StringWidth(t.Name))
	}
	descWidth := max(terminalWidth()-nameWidth-2, 20)
	for _, t := range tools {
		desc := strings.Join(strings.Fields(t.Description), " ")
		fmt.Fprintf(out, "%s  %s\n",
			styleCommand.Render(runewidth.FillRight(t.Name, nameWidth)),
			runewidth.Truncate(desc, descWidth, "…"))
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	sessions, err := a.client.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	sessions = fuzzyFilter(sessionsFilter, sessions, func(s client.SessionInfo) string { return s.ID })

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, styleHint.Render("No sessions."))
		return nil
	}
	for _, s := range sessions {
		line := styleValue.Render(s.ID)
		var meta []string
		if s.MessageCount > 0 {
			meta = append(meta, fmt.Sprintf("%d messages", s.MessageCount))
		}
		if s.UpdatedAt != "" {
			meta = append(meta, "updated "+s.UpdatedAt)
		} else if s.CreatedAt != "" {
			meta = append(meta, "created "+s.CreatedAt)
		}
		if len(meta) > 0 {
			line += "  " + styleLabel.Render(strings.Join(meta, ", "))
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
