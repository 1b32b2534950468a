package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type BackendConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type StreamConfig struct {
	IdleTimeout Duration `toml:"idle_timeout"`
	Fallback    string   `toml:"fallback"`
}

type JobsConfig struct {
	PollInterval Duration `toml:"poll_interval"`
}

type CredentialsConfig struct {
	Storage    string `toml:"storage"`
	Encryption string `toml:"encryption"`
	SSHKeyPath string `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	Backend     BackendConfig     `toml:"backend"`
	Stream      StreamConfig      `toml:"stream"`
	Jobs        JobsConfig        `toml:"jobs"`
	Credentials CredentialsConfig `toml:"credentials"`
}

// Fallback policies applied when an analysis stream is cut before it finishes.
const (
	FallbackManual = "manual"
	FallbackAuto   = "auto"
)

type Config struct {
	DataDirectory     string
	BaseURL           string
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	StreamFallback    string
	PollInterval      time.Duration
	CredentialStorage StorageType
	Encryption        EncryptionMethod
	SSHKeyPath        string

	// EnvAPIKey is set from AGENTDASH_API_KEY and never written to disk.
	EnvAPIKey string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// UserConfig returns the persisted form of the current configuration.
func (c *Config) UserConfig() *UserConfig {
	return &UserConfig{
		Backend: BackendConfig{
			BaseURL:        c.BaseURL,
			RequestTimeout: Duration{c.RequestTimeout},
		},
		Stream: StreamConfig{
			IdleTimeout: Duration{c.StreamIdleTimeout},
			Fallback:    c.StreamFallback,
		},
		Jobs: JobsConfig{
			PollInterval: Duration{c.PollInterval},
		},
		Credentials: CredentialsConfig{
			Storage:    string(c.CredentialStorage),
			Encryption: string(c.Encryption),
			SSHKeyPath: c.SSHKeyPath,
		},
	}
}

func (c *Config) applyUserConfig(u *UserConfig) {
	if u.Backend.BaseURL != "" {
		c.BaseURL = u.Backend.BaseURL
	}
	if u.Backend.RequestTimeout.Duration > 0 {
		c.RequestTimeout = u.Backend.RequestTimeout.Duration
	}
	c.StreamIdleTimeout = u.Stream.IdleTimeout.Duration
	if u.Stream.Fallback != "" {
		c.StreamFallback = strings.ToLower(u.Stream.Fallback)
	}
	if u.Jobs.PollInterval.Duration > 0 {
		c.PollInterval = u.Jobs.PollInterval.Duration
	}
	if u.Credentials.Storage != "" {
		c.CredentialStorage = StorageType(strings.ToLower(u.Credentials.Storage))
	}
	if u.Credentials.Encryption != "" {
		c.Encryption = EncryptionMethod(strings.ToLower(u.Credentials.Encryption))
	}
	c.SSHKeyPath = u.Credentials.SSHKeyPath
}

func (c *Config) applyEnvOverrides() {
	if baseURL := os.Getenv("AGENTDASH_BASE_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}
	if dataDir := os.Getenv("AGENTDASH_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if key := os.Getenv("AGENTDASH_API_KEY"); key != "" {
		c.EnvAPIKey = key
	}
}

// Validate checks the values a user can get wrong in config.toml.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", u.Scheme)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be > 0")
	}
	if c.StreamIdleTimeout < 0 {
		return fmt.Errorf("stream.idle_timeout cannot be negative")
	}
	if c.StreamFallback != FallbackManual && c.StreamFallback != FallbackAuto {
		return fmt.Errorf("stream.fallback must be %q or %q, got %q", FallbackManual, FallbackAuto, c.StreamFallback)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be > 0")
	}
	if _, err := ParseStorageType(string(c.CredentialStorage)); err != nil {
		return fmt.Errorf("credentials.storage: %w", err)
	}
	switch c.Encryption {
	case EncryptionNone:
	case EncryptionSSHKey:
		if c.SSHKeyPath == "" {
			return fmt.Errorf("credentials.ssh_key_path is required when encryption is %q", EncryptionSSHKey)
		}
	default:
		return fmt.Errorf("credentials.encryption must be %q or %q, got %q", EncryptionNone, EncryptionSSHKey, c.Encryption)
	}
	return nil
}

func CheckDebug() bool {
	debug := os.Getenv("AGENTDASH_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log holds request paths and backend error text
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (AGENTDASH_DEBUG=%s) ===", os.Getenv("AGENTDASH_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment win.
func LoadDotEnv() {
	if !FileExists(".env") {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
}

func Load() (*Config, error) {
	cfg := DefaultConfig()

	if dataDir := os.Getenv("AGENTDASH_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the user-level settings back to <data_directory>/config.toml.
func (c *Config) Save() error {
	return SaveUserConfig(c.UserConfig(), c.DataDir())
}

// Duration is a time.Duration that reads and writes as a TOML string ("90s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
