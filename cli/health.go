package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Aliases: []string{"status"},
	Short:   "Check that the agent service is reachable",
	RunE:    runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Backend:"), styleValue.Render(a.client.BaseURL()))

	info, err := a.client.Health(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, styleError.Render("✗ Disconnected"))
		return err
	}

	fmt.Fprintln(out, styleSuccess.Render("● Connected"))
	if info.Status != "" {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Status:"), info.Status)
	}
	if info.Model != "" {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Model:"), info.Model)
	}
	if info.Version != "" {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Version:"), info.Version)
	}
	if len(info.Capabilities) > 0 {
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Capabilities:"), strings.Join(info.Capabilities, ", "))
	}

	switch {
	case info.Secured && !a.client.HasAPIKey():
		fmt.Fprintln(out, styleWarning.Render("⚠ The backend requires an API key.")+" "+
			styleHint.Render("Run "+styleCommand.Render("agentdash auth login")+"."))
	case info.Secured:
		fmt.Fprintf(out, "%s secured, key stored in %s\n", styleLabel.Render("Auth:"), a.client.StorageType())
	default:
		fmt.Fprintf(out, "%s open\n", styleLabel.Render("Auth:"))
	}
	return nil
}
