package config

import "time"

const (
	DefaultBaseURL           = "http://localhost:8000"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultStreamIdleTimeout = 90 * time.Second
	DefaultPollInterval      = 3 * time.Second
)

func DefaultConfig() *Config {
	return &Config{
		DataDirectory:     "~/.local/share/agentdash",
		BaseURL:           DefaultBaseURL,
		RequestTimeout:    DefaultRequestTimeout,
		StreamIdleTimeout: DefaultStreamIdleTimeout,
		StreamFallback:    FallbackManual,
		PollInterval:      DefaultPollInterval,
		CredentialStorage: StorageSession,
		Encryption:        EncryptionNone,
	}
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/agentdash",
	}
}

func DefaultUserConfig() *UserConfig {
	return DefaultConfig().UserConfig()
}

func GenerateSystemConfigTemplate() string {
	return `# agentdash System Configuration
# Location: ~/.config/agentdash/settings.toml
# This file uses TOML format: https://toml.io

# Directory where user config and durable credentials are stored
data_directory = "~/.local/share/agentdash"
`
}

func GenerateUserConfigTemplate() string {
	return `# agentdash User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[backend]
# Agent service base URL
base_url = "http://localhost:8000"

# Timeout for non-streaming requests
request_timeout = "1m0s"

[stream]
# Abort a stream when no frame (heartbeats included) arrives for this long.
# "0" disables the idle timer.
idle_timeout = "1m30s"

# What to do when an analysis stream is cut before it finishes:
#   "manual" - report the aborted stream and keep partial results
#   "auto"   - resubmit the analysis as an async job and poll it
fallback = "manual"

[jobs]
# Delay between async job status checks
poll_interval = "3s"

[credentials]
# Where the API key is kept:
#   "session" - per-login runtime directory, gone after logout/reboot
#   "local"   - credentials file in the data directory
#   "memory"  - never written; pass it with AGENTDASH_API_KEY
storage = "session"

# Encryption for "local" storage: "none" or "ssh_key"
encryption = "none"

# SSH private key used when encryption = "ssh_key"
# ssh_key_path = "~/.ssh/id_ed25519"
`
}
