package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNotTerminal = errors.New("stdin is not a terminal")

// Replaced in tests.
var (
	stdinIsTerminal = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd()))
	}
	stdoutIsTerminal = func() bool {
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
)

// terminalWidth falls back to 100 columns when stdout is not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// promptSecret reads a line without echo. It refuses to read from a pipe.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	if !stdinIsTerminal() {
		return "", errNotTerminal
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// readSecret prompts on a terminal, otherwise takes the first line of stdin
// (e.g. `pass show agentdash | agentdash auth login`).
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	if stdinIsTerminal() {
		return promptSecret(cmd, prompt)
	}
	return readFirstLine(cmd.InOrStdin())
}

func readFirstLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptYesNo(cmd *cobra.Command, prompt string, defaultVal bool) bool {
	if !stdinIsTerminal() {
		return defaultVal
	}
	defaultStr := "y/N"
	if defaultVal {
		defaultStr = "Y/n"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [%s]: ", prompt, defaultStr)
	response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response == "" {
		return defaultVal
	}
	return response == "y" || response == "yes"
}
