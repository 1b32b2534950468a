// Package cli implements the agentdash commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentdash/client"
	"agentdash/config"
)

// Version is set by main.
var Version = "dev"

var flagBaseURL string

var rootCmd = &cobra.Command{
	Use:   "agentdash",
	Short: "Terminal client for a remote code-analysis agent",
	Long: `agentdash talks to a remote agent service: chat with the agent, run
repository analyses with live progress, and export the findings as a report.

Run without a command to open the interactive dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

// Execute runs the CLI. Errors are printed before being returned.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error:")+" "+client.UserMessage(err))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "agent service URL (overrides config and AGENTDASH_BASE_URL)")
	rootCmd.Flags().BoolVar(&chatStream, "stream", true, "stream replies token by token")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles what every backend command needs.
type app struct {
	cfg    *config.Config
	creds  *config.CredentialStore
	client *client.Client
}

func newApp(cmd *cobra.Command) (*app, error) {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --base-url: %w", err)
		}
	}
	config.InitDebugLog(cfg.DataDir())

	creds, err := loadCredentials(cmd, cfg)
	if err != nil {
		return nil, err
	}

	c, err := client.NewFromConfig(cfg, creds)
	if err != nil {
		return nil, err
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[CLI] %s: backend=%s storage=%s key present=%v",
			cmd.CommandPath(), c.BaseURL(), creds.StorageType(), creds.HasAPIKey())
	}
	return &app{cfg: cfg, creds: creds, client: c}, nil
}

// loadCredentials reads the stored API key. An encrypted SSH key prompts for
// its passphrase on a terminal.
func loadCredentials(cmd *cobra.Command, cfg *config.Config) (*config.CredentialStore, error) {
	creds := config.NewCredentialStore(cfg)
	var sealer *config.Sealer
	if cfg.Encryption == config.EncryptionSSHKey {
		sealer = config.NewSealer(cfg.SSHKeyPath)
		creds.WithSealer(sealer)
	}

	err := creds.Load(cfg.EnvAPIKey)
	if err == nil || sealer == nil || !errors.Is(err, config.ErrPassphraseRequired) {
		return creds, err
	}

	passphrase, perr := promptSecret(cmd, "SSH key passphrase: ")
	if perr != nil {
		return nil, fmt.Errorf("%w (%v)", err, perr)
	}
	sealer.SetPassphrase(passphrase)
	if err := creds.Load(cfg.EnvAPIKey); err != nil {
		return nil, err
	}
	return creds, nil
}
