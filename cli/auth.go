package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agentdash/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the backend API key",
	Long: `Manage the backend API key.

The key is kept in exactly one place, chosen by the storage policy:
  session  login-scoped runtime directory, gone after logout (default)
  local    data directory, optionally encrypted with an SSH key
  memory   never written; use AGENTDASH_API_KEY`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key",
	Long: `Store an API key. The key is read without echo on a terminal, or
from the first line of stdin.`,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API key",
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the API key is stored",
	RunE:  runAuthStatus,
}

var authStorageCmd = &cobra.Command{
	Use:       "storage <session|local|memory>",
	Short:     "Change the storage policy and move the key",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"session", "local", "memory"},
	RunE:      runAuthStorage,
}

var authEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt the local credential file with an SSH key",
	Long: `Encrypt the local credential file with an AES key derived from an SSH
private key (ed25519 or RSA). Without --key the first usable key in ~/.ssh is
used; --create generates a dedicated one. --off goes back to plaintext.`,
	RunE: runAuthEncrypt,
}

var (
	authLoginStorage string
	authEncryptKey   string
	authEncryptNew   bool
	authEncryptOff   bool
)

func init() {
	authLoginCmd.Flags().StringVar(&authLoginStorage, "storage", "", "storage policy to use: session, local or memory")
	authEncryptCmd.Flags().StringVar(&authEncryptKey, "key", "", "SSH private key to derive the encryption key from")
	authEncryptCmd.Flags().BoolVar(&authEncryptNew, "create", false, "generate a dedicated ed25519 key")
	authEncryptCmd.Flags().BoolVar(&authEncryptOff, "off", false, "store the key in plaintext again")

	authCmd.AddCommand(authEncryptCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authStorageCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	if authLoginStorage != "" {
		t, err := config.ParseStorageType(authLoginStorage)
		if err != nil {
			return err
		}
		if err := a.creds.SetStorageType(t); err != nil {
			return err
		}
	}
	if a.creds.StorageType() == config.StorageMemory {
		return errors.New("memory storage keeps the key for one process only; set AGENTDASH_API_KEY instead, or pick session or local storage")
	}

	key, err := readSecret(cmd, "API key: ")
	if err != nil {
		return err
	}
	if err := a.creds.SetAPIKey(key); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s storage)\n", styleSuccess.Render("✓ API key saved"), a.creds.StorageType())
	if a.cfg.EnvAPIKey != "" {
		fmt.Fprintln(cmd.OutOrStdout(), styleWarning.Render("⚠ AGENTDASH_API_KEY is set and takes precedence over the stored key."))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.creds.ClearAPIKey(); err != nil {
		return fmt.Errorf("failed to remove API key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render("✓ API key removed"))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Storage:"), styleValue.Render(string(a.creds.StorageType())))
	enc := string(a.cfg.Encryption)
	if a.cfg.Encryption == config.EncryptionSSHKey {
		enc += " (" + a.cfg.SSHKeyPath + ")"
	}
	fmt.Fprintf(out, "%s %s\n", styleLabel.Render("Encryption:"), enc)

	switch {
	case a.cfg.EnvAPIKey != "":
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("API key:"), styleSuccess.Render("from AGENTDASH_API_KEY"))
	case a.creds.HasAPIKey():
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("API key:"), styleSuccess.Render("stored"))
		for _, t := range []config.StorageType{config.StorageSession, config.StorageLocal} {
			if t != a.creds.StorageType() && a.creds.StoredIn(t) {
				fmt.Fprintln(out, styleWarning.Render(fmt.Sprintf("⚠ A stale key is also stored in %s storage; run agentdash auth logout and log in again.", t)))
			}
		}
	default:
		fmt.Fprintf(out, "%s %s\n", styleLabel.Render("API key:"), styleWarning.Render("none"))
		fmt.Fprintln(out, styleHint.Render("Run "+styleCommand.Render("agentdash auth login")+" to store one."))
	}
	return nil
}

func runAuthStorage(cmd *cobra.Command, args []string) error {
	t, err := config.ParseStorageType(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	if t == config.StorageMemory && a.creds.StoredIn(a.creds.StorageType()) {
		if !promptYesNo(cmd, "Memory storage deletes the stored key. Continue?", false) {
			return errors.New("cancelled")
		}
	}
	if err := a.creds.SetStorageType(t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleSuccess.Render("✓ Storage set to"), t)
	return nil
}

func runAuthEncrypt(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if authEncryptOff {
		if err := a.creds.SetSealer(nil); err != nil {
			return err
		}
		a.cfg.Encryption = config.EncryptionNone
		if err := saveEncryption(a.cfg); err != nil {
			return err
		}
		fmt.Fprintln(out, styleSuccess.Render("✓ Local credentials are stored in plaintext"))
		return nil
	}

	keyPath, passphrase, err := chooseSSHKey(cmd)
	if err != nil {
		return err
	}

	encrypted, err := config.IsSSHKeyEncrypted(keyPath)
	if err != nil {
		return err
	}
	if encrypted && passphrase == "" {
		passphrase, err = promptSecret(cmd, "SSH key passphrase: ")
		if err != nil {
			return err
		}
	}
	sealer := config.NewSealer(keyPath)
	sealer.SetPassphrase(passphrase)
	// Fail before touching any file if the key cannot derive an AES key
	if _, err := sealer.Seal([]byte("probe")); err != nil {
		return err
	}

	if err := a.creds.SetSealer(sealer); err != nil {
		return err
	}
	a.cfg.Encryption = config.EncryptionSSHKey
	a.cfg.SSHKeyPath = keyPath
	if err := saveEncryption(a.cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", styleSuccess.Render("✓ Local credentials encrypted with"), keyPath)
	if a.creds.StorageType() != config.StorageLocal {
		fmt.Fprintln(out, styleHint.Render("Encryption applies to local storage. Run "+
			styleCommand.Render("agentdash auth storage local")+" to use it."))
	}
	return nil
}

// chooseSSHKey returns the key to derive from, and the passphrase when a new
// key was just created with one.
func chooseSSHKey(cmd *cobra.Command) (string, string, error) {
	if authEncryptKey != "" {
		return config.ExpandPath(authEncryptKey), "", nil
	}
	if authEncryptNew {
		var passphrase string
		if stdinIsTerminal() {
			p, err := promptSecret(cmd, "Passphrase for the new key (empty for none): ")
			if err != nil {
				return "", "", err
			}
			passphrase = p
		}
		path, err := config.CreateSSHKey("", passphrase)
		if err != nil {
			return "", "", err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleSuccess.Render("✓ Created"), path)
		return path, passphrase, nil
	}

	keys, err := config.FindSSHKeys("")
	if err != nil {
		return "", "", err
	}
	if len(keys) == 0 {
		return "", "", errors.New("no ed25519 or RSA key found in ~/.ssh; pass --key or --create")
	}
	return keys[0], "", nil
}

func saveEncryption(cfg *config.Config) error {
	return config.UpdateUserConfig(cfg.DataDir(), func(u *config.UserConfig) {
		u.Credentials.Encryption = string(cfg.Encryption)
		u.Credentials.SSHKeyPath = cfg.SSHKeyPath
	})
}
