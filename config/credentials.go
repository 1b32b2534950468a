package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// StorageType is where the API key lives between runs.
type StorageType string

const (
	// StorageSession keeps the key in the per-login runtime directory.
	StorageSession StorageType = "session"
	// StorageLocal keeps the key in the data directory until removed.
	StorageLocal StorageType = "local"
	// StorageMemory never writes the key anywhere.
	StorageMemory StorageType = "memory"
)

func ParseStorageType(s string) (StorageType, error) {
	switch t := StorageType(strings.ToLower(strings.TrimSpace(s))); t {
	case StorageSession, StorageLocal, StorageMemory:
		return t, nil
	default:
		return "", fmt.Errorf("unknown storage type %q (want session, local or memory)", s)
	}
}

// CredentialStore holds the API key and owns where it is persisted. The key is
// written to at most one location at a time.
type CredentialStore struct {
	mu         sync.Mutex
	storage    StorageType
	key        string
	dataDir    string
	runtimeDir string
	sealer     *Sealer

	// override comes from the environment and is never persisted
	override string

	// OnStorageChange persists a new storage policy. Optional.
	OnStorageChange func(StorageType) error
}

// NewCredentialStore builds a store from the loaded configuration. Call Load
// to read an existing key.
func NewCredentialStore(cfg *Config) *CredentialStore {
	s := NewCredentialStoreAt(cfg.CredentialStorage, cfg.DataDir(), GetRuntimeDir())
	if cfg.Encryption == EncryptionSSHKey {
		s.sealer = NewSealer(cfg.SSHKeyPath)
	}
	s.OnStorageChange = func(t StorageType) error {
		cfg.CredentialStorage = t
		return UpdateUserConfig(cfg.DataDir(), func(u *UserConfig) {
			u.Credentials.Storage = string(t)
		})
	}
	return s
}

// NewCredentialStoreAt builds a plaintext store rooted at explicit directories.
func NewCredentialStoreAt(storage StorageType, dataDir, runtimeDir string) *CredentialStore {
	return &CredentialStore{
		storage:    storage,
		dataDir:    dataDir,
		runtimeDir: runtimeDir,
	}
}

// WithSealer enables SSH-key encryption of the local credential file.
func (c *CredentialStore) WithSealer(s *Sealer) *CredentialStore {
	c.sealer = s
	return c
}

// Load reads the key from the configured location. A missing key is not an
// error. An override (from AGENTDASH_API_KEY) is held in memory only and
// shadows the stored key, which is left unread.
func (c *CredentialStore) Load(override string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if override != "" {
		c.override = override
		return nil
	}

	key, err := c.read(c.storage)
	if err != nil {
		return err
	}
	c.key = key
	return nil
}

func (c *CredentialStore) APIKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override != "" {
		return c.override
	}
	return c.key
}

func (c *CredentialStore) HasAPIKey() bool {
	return c.APIKey() != ""
}

func (c *CredentialStore) StorageType() StorageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage
}

// SetAPIKey stores the key in the current location. An override still takes
// precedence for the rest of the process.
func (c *CredentialStore) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(c.storage, key); err != nil {
		return err
	}
	c.key = key
	return nil
}

// ClearAPIKey forgets the stored key and removes it from every location.
func (c *CredentialStore) ClearAPIKey() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key = ""
	var errs []error
	for _, t := range []StorageType{StorageSession, StorageLocal} {
		if err := c.purge(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetStorageType moves the stored key to the new location and removes it
// from the old one before returning. An override is never moved.
func (c *CredentialStore) SetStorageType(t StorageType) error {
	if _, err := ParseStorageType(string(t)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.storage
	if old == t {
		return nil
	}

	key, err := c.persisted(old)
	if err != nil {
		return fmt.Errorf("failed to read API key from %s storage: %w", old, err)
	}
	if key != "" {
		if err := c.write(t, key); err != nil {
			return fmt.Errorf("failed to move API key to %s storage: %w", t, err)
		}
	}
	if err := c.purge(old); err != nil {
		// Never leave the secret in two places
		_ = c.purge(t)
		return fmt.Errorf("failed to remove API key from %s storage: %w", old, err)
	}

	c.storage = t
	c.key = key
	if DebugLog != nil {
		DebugLog.Printf("[Credentials] storage changed %s -> %s (key present: %v)", old, t, key != "")
	}

	if c.OnStorageChange != nil {
		if err := c.OnStorageChange(t); err != nil {
			return fmt.Errorf("failed to save storage setting: %w", err)
		}
	}
	return nil
}

// SetSealer switches the local credential file between plaintext (nil) and
// SSH-key encryption. A key already stored locally is rewritten in the new
// form before the old file is removed.
func (c *CredentialStore) SetSealer(s *Sealer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldPath := c.credentialsPath()
	if c.sealer != nil {
		oldPath = c.encryptedCredentialsPath()
	}
	prev := c.sealer

	if c.storage != StorageLocal {
		c.sealer = s
		return nil
	}
	key, err := c.persisted(StorageLocal)
	if err != nil {
		return fmt.Errorf("failed to read local credentials: %w", err)
	}
	c.sealer = s
	if key == "" {
		return nil
	}
	if err := c.write(StorageLocal, key); err != nil {
		c.sealer = prev
		return err
	}
	c.key = key
	newPath := c.credentialsPath()
	if s != nil {
		newPath = c.encryptedCredentialsPath()
	}
	if oldPath == newPath {
		return nil
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(oldPath), err)
	}
	if DebugLog != nil {
		DebugLog.Printf("[Credentials] local key moved %s -> %s", filepath.Base(oldPath), filepath.Base(newPath))
	}
	return nil
}

// StoredIn reports whether a key is currently persisted in the given location.
func (c *CredentialStore) StoredIn(t StorageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.read(t)
	return err == nil && key != ""
}

// persisted returns the key held by location t. Memory storage has nothing on
// disk, so its key is the one in hand. Must be called with c.mu held.
func (c *CredentialStore) persisted(t StorageType) (string, error) {
	if t == StorageMemory {
		return c.key, nil
	}
	return c.read(t)
}

func (c *CredentialStore) sessionKeyPath() string {
	return filepath.Join(c.runtimeDir, "session.key")
}

func (c *CredentialStore) credentialsPath() string {
	return filepath.Join(c.dataDir, "credentials.toml")
}

func (c *CredentialStore) encryptedCredentialsPath() string {
	return filepath.Join(c.dataDir, "credentials.enc")
}

type credentialsFile struct {
	Credentials struct {
		APIKey string `toml:"api_key"`
	} `toml:"credentials"`
}

func (c *CredentialStore) read(t StorageType) (string, error) {
	switch t {
	case StorageMemory:
		return "", nil

	case StorageSession:
		data, err := os.ReadFile(c.sessionKeyPath())
		if os.IsNotExist(err) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read session credentials: %w", err)
		}
		return strings.TrimSpace(string(data)), nil

	case StorageLocal:
		if c.sealer != nil {
			return c.readEncrypted()
		}
		path := c.credentialsPath()
		if !FileExists(path) {
			return "", nil
		}
		var cf credentialsFile
		if _, err := toml.DecodeFile(path, &cf); err != nil {
			return "", fmt.Errorf("failed to parse credentials file: %w", err)
		}
		return cf.Credentials.APIKey, nil

	default:
		return "", fmt.Errorf("unknown storage type: %s", t)
	}
}

func (c *CredentialStore) readEncrypted() (string, error) {
	data, err := os.ReadFile(c.encryptedCredentialsPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read encrypted credentials: %w", err)
	}
	plain, err := c.sealer.Open(data)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return strings.TrimSpace(string(plain)), nil
}

func (c *CredentialStore) write(t StorageType, key string) error {
	switch t {
	case StorageMemory:
		return nil

	case StorageSession:
		if err := EnsureDir(c.runtimeDir); err != nil {
			return fmt.Errorf("failed to create runtime directory: %w", err)
		}
		return writeSecret(c.sessionKeyPath(), []byte(key))

	case StorageLocal:
		if err := EnsureDir(c.dataDir); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if c.sealer != nil {
			sealed, err := c.sealer.Seal([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to encrypt credentials: %w", err)
			}
			return writeSecret(c.encryptedCredentialsPath(), sealed)
		}
		var cf credentialsFile
		cf.Credentials.APIKey = key
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cf); err != nil {
			return fmt.Errorf("failed to encode credentials: %w", err)
		}
		return writeSecret(c.credentialsPath(), buf.Bytes())

	default:
		return fmt.Errorf("unknown storage type: %s", t)
	}
}

func (c *CredentialStore) purge(t StorageType) error {
	var paths []string
	switch t {
	case StorageSession:
		paths = []string{c.sessionKeyPath()}
	case StorageLocal:
		paths = []string{c.credentialsPath(), c.encryptedCredentialsPath()}
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writeSecret writes with 0600 permissions (owner read/write only).
func writeSecret(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
