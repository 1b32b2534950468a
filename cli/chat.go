package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	appmodel "agentdash/model"
	"agentdash/ui"
)

var chatStream bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive dashboard",
	Long: `Open the interactive dashboard: chat with the agent, run analyses with
/analyze, and export reports. Press Alt+H inside for key bindings.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatStream, "stream", true, "stream replies token by token")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	return runTUI(cmd, a, ui.Options{Stream: chatStream})
}

func runTUI(cmd *cobra.Command, a *app, opts ui.Options) error {
	dataModel := appmodel.NewModel(a.cfg, a.client, a.creds, Version)
	view := ui.NewAppView(cmd.Context(), dataModel, opts)

	p := tea.NewProgram(view, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}
