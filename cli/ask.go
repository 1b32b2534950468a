package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"agentdash/client"
	appmodel "agentdash/model"
	"agentdash/report"
)

var (
	askStream        bool
	askSession       string
	askMaxIterations int
	askRaw           bool
)

var askCmd = &cobra.Command{
	Use:   "ask [task]",
	Short: "Run one agent turn and print the reply",
	Long: `Run one agent turn and print the reply.

The task is taken from the arguments, or from stdin when none are given.
Pass --session to continue an earlier conversation.`,
	Example: `  agentdash ask "What is 123 * 456?"
  agentdash ask --stream --session 3f2a... "and divided by 2?"
  git diff | agentdash ask`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askStream, "stream", "s", false, "stream the reply token by token")
	askCmd.Flags().StringVar(&askSession, "session", "", "continue this backend session")
	askCmd.Flags().IntVar(&askMaxIterations, "max-iterations", 0, "cap agent iterations (0 = backend default)")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the reply without Markdown rendering")
}

func runAsk(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" && !stdinIsTerminal() {
		line, err := readAll(cmd)
		if err != nil {
			return err
		}
		task = line
	}
	if task == "" {
		return appmodel.ErrEmptyTask
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	conv := appmodel.NewConversation(a.client)
	conv.SetSessionID(askSession)
	conv.SetMaxIterations(askMaxIterations)

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	var reply appmodel.Message
	if askStream {
		reply, err = conv.SubmitStream(cmd.Context(), task, func(ev client.Event) {
			switch e := ev.(type) {
			case *client.TokenEvent:
				fmt.Fprint(out, e.Content)
			case *client.ToolStartEvent:
				fmt.Fprintln(errOut, styleHint.Render("⚙ "+e.Tool))
			}
		})
		if reply.Content != "" && !strings.HasSuffix(reply.Content, "\n") {
			fmt.Fprintln(out)
		}
	} else {
		reply, err = conv.Submit(cmd.Context(), task)
		if reply.Content != "" {
			printReply(cmd, reply.Content)
		}
	}

	if reply.SessionID != "" {
		fmt.Fprintf(errOut, "%s %s\n", styleLabel.Render("session:"), reply.SessionID)
	}

	// In-band problems come with a usable reply; report them without failing
	var incomplete *client.IncompleteError
	if errors.As(err, &incomplete) {
		fmt.Fprintln(errOut, styleWarning.Render(client.UserMessage(err)))
		return nil
	}
	return err
}

func printReply(cmd *cobra.Command, content string) {
	if askRaw || !stdoutIsTerminal() {
		fmt.Fprintln(cmd.OutOrStdout(), content)
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Terminal(content, terminalWidth()))
}

func readAll(cmd *cobra.Command) (string, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
