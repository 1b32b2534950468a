package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"relative url", func(c *Config) { c.BaseURL = "localhost:8000" }, true},
		{"ftp url", func(c *Config) { c.BaseURL = "ftp://example.com" }, true},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"idle timeout disabled", func(c *Config) { c.StreamIdleTimeout = 0 }, false},
		{"negative idle timeout", func(c *Config) { c.StreamIdleTimeout = -time.Second }, true},
		{"auto fallback", func(c *Config) { c.StreamFallback = FallbackAuto }, false},
		{"bad fallback", func(c *Config) { c.StreamFallback = "sometimes" }, true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"bad storage", func(c *Config) { c.CredentialStorage = "keychain" }, true},
		{"ssh key without path", func(c *Config) { c.Encryption = EncryptionSSHKey }, true},
		{"ssh key with path", func(c *Config) {
			c.Encryption = EncryptionSSHKey
			c.SSHKeyPath = "~/.ssh/agentdash_ed25519"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, d.UnmarshalText([]byte("0")))
	assert.Zero(t, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := Duration{5 * time.Minute}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(out))
}

func TestLoadCreatesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGENTDASH_DATA_DIR", "")
	t.Setenv("AGENTDASH_BASE_URL", "")
	t.Setenv("AGENTDASH_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultStreamIdleTimeout, cfg.StreamIdleTimeout)
	assert.Equal(t, FallbackManual, cfg.StreamFallback)
	assert.Equal(t, StorageSession, cfg.CredentialStorage)

	assert.FileExists(t, filepath.Join(home, ".config", "agentdash", "settings.toml"))
	dataDir := filepath.Join(home, ".local", "share", "agentdash")
	assert.FileExists(t, filepath.Join(dataDir, "config.toml"))

	info, err := os.Stat(dataDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestLoadUserConfigAndEnv(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTDASH_DATA_DIR", dataDir)
	t.Setenv("AGENTDASH_BASE_URL", "https://agents.example.com")
	t.Setenv("AGENTDASH_API_KEY", "sk-from-env")

	content := `
[backend]
base_url = "http://ignored:8000"
request_timeout = "15s"

[stream]
idle_timeout = "2m"
fallback = "AUTO"

[jobs]
poll_interval = "1s"

[credentials]
storage = "memory"
encryption = "none"
`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://agents.example.com", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.StreamIdleTimeout)
	assert.Equal(t, FallbackAuto, cfg.StreamFallback)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, StorageMemory, cfg.CredentialStorage)
	assert.Equal(t, "sk-from-env", cfg.EnvAPIKey)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTDASH_DATA_DIR", dataDir)
	t.Setenv("AGENTDASH_BASE_URL", "")

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"),
		[]byte("[stream]\nfallback = \"maybe\"\n"), 0600))

	_, err := Load()
	assert.ErrorContains(t, err, "stream.fallback")
}

func TestSaveRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTDASH_DATA_DIR", dataDir)
	t.Setenv("AGENTDASH_BASE_URL", "")
	t.Setenv("AGENTDASH_API_KEY", "")

	cfg := DefaultConfig()
	cfg.DataDirectory = dataDir
	cfg.CredentialStorage = StorageLocal
	cfg.PollInterval = 7 * time.Second
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageLocal, loaded.CredentialStorage)
	assert.Equal(t, 7*time.Second, loaded.PollInterval)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.ssh/id_ed25519", ExpandPath("~/.ssh/id_ed25519"))
	assert.Equal(t, "", ExpandPath(""))
}

func TestRuntimeDirPrefersXDG(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, filepath.Join("/run/user/1000", "agentdash"), GetRuntimeDir())
}
