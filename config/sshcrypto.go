package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const dedicatedKeyName = "agentdash_ed25519"

// IsSSHKeyEncrypted reports whether the key at keyPath needs a passphrase.
func IsSSHKeyEncrypted(keyPath string) (bool, error) {
	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return false, fmt.Errorf("failed to read SSH key: %w", err)
	}

	_, err = ssh.ParsePrivateKey(keyData)
	if err == nil {
		return false, nil
	}

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) || strings.Contains(err.Error(), "encrypted") {
		return true, nil
	}
	return false, fmt.Errorf("invalid SSH key: %w", err)
}

// FindSSHKeys lists private keys in sshDir that can seal credentials, the
// dedicated agentdash key first. An empty sshDir means ~/.ssh.
func FindSSHKeys(sshDir string) ([]string, error) {
	if sshDir == "" {
		sshDir = filepath.Join(GetHomeDir(), ".ssh")
	}
	if _, err := os.Stat(sshDir); os.IsNotExist(err) {
		return nil, nil
	}

	// ECDSA signatures are randomized and cannot derive a stable AES key.
	keyNames := []string{dedicatedKeyName, "id_ed25519", "id_rsa"}

	var found []string
	for _, name := range keyNames {
		keyPath := filepath.Join(sshDir, name)
		if isPrivateKey(keyPath) {
			found = append(found, keyPath)
		}
	}
	return found, nil
}

func isPrivateKey(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, "BEGIN") && strings.Contains(content, "PRIVATE KEY")
}

// CreateSSHKey generates an ED25519 key for credential encryption with
// ssh-keygen. An existing key is never overwritten; a dated name is picked
// instead. Returns the path of the new private key.
func CreateSSHKey(sshDir, passphrase string) (string, error) {
	if sshDir == "" {
		sshDir = filepath.Join(GetHomeDir(), ".ssh")
	}
	keyPath := filepath.Join(sshDir, dedicatedKeyName)

	if FileExists(keyPath) {
		dateStr := time.Now().Format("20060102")
		for counter := 1; ; counter++ {
			if counter > 99 {
				return "", fmt.Errorf("too many %s keys created today", dedicatedKeyName)
			}
			keyPath = filepath.Join(sshDir, fmt.Sprintf("%s_%s%02d", dedicatedKeyName, dateStr, counter))
			if !FileExists(keyPath) {
				break
			}
		}
	}

	if err := EnsureDir(sshDir); err != nil {
		return "", fmt.Errorf("failed to create .ssh directory: %w", err)
	}

	cmd := exec.Command("ssh-keygen",
		"-t", "ed25519",
		"-f", keyPath,
		"-C", "agentdash-credential-key",
		"-N", passphrase,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to generate SSH key: %w\nOutput: %s", err, output)
	}
	if err := os.Chmod(keyPath, 0600); err != nil {
		return "", fmt.Errorf("failed to set key permissions: %w", err)
	}

	if DebugLog != nil {
		DebugLog.Printf("[SSH] Created credential key at %s", keyPath)
	}
	return keyPath, nil
}
