package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newTestStore(t *testing.T, storage StorageType) (*CredentialStore, string, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	runtimeDir := filepath.Join(t.TempDir(), "run")
	return NewCredentialStoreAt(storage, dataDir, runtimeDir), dataDir, runtimeDir
}

func writeTestSSHKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agentdash_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestParseStorageType(t *testing.T) {
	for _, in := range []string{"session", "LOCAL", " memory "} {
		_, err := ParseStorageType(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseStorageType("keychain")
	assert.Error(t, err)
}

func TestSessionStorageRoundTrip(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageSession)
	require.NoError(t, store.SetAPIKey("  sk-session  "))
	assert.Equal(t, "sk-session", store.APIKey())

	info, err := os.Stat(filepath.Join(runtimeDir, "session.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))

	reloaded := NewCredentialStoreAt(StorageSession, dataDir, runtimeDir)
	require.NoError(t, reloaded.Load(""))
	assert.Equal(t, "sk-session", reloaded.APIKey())
}

func TestSetStorageTypeMovesKey(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageSession)
	require.NoError(t, store.SetAPIKey("sk-move"))

	var persisted StorageType
	store.OnStorageChange = func(t StorageType) error {
		persisted = t
		return nil
	}

	require.NoError(t, store.SetStorageType(StorageLocal))
	assert.Equal(t, StorageLocal, persisted)
	assert.True(t, store.StoredIn(StorageLocal))
	assert.False(t, store.StoredIn(StorageSession))
	assert.NoFileExists(t, filepath.Join(runtimeDir, "session.key"))
	assert.FileExists(t, filepath.Join(dataDir, "credentials.toml"))

	require.NoError(t, store.SetStorageType(StorageSession))
	assert.True(t, store.StoredIn(StorageSession))
	assert.False(t, store.StoredIn(StorageLocal))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))
	assert.Equal(t, "sk-move", store.APIKey())
}

func TestMemoryStorageNeverWrites(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageSession)
	require.NoError(t, store.SetAPIKey("sk-mem"))
	require.NoError(t, store.SetStorageType(StorageMemory))

	assert.Equal(t, "sk-mem", store.APIKey())
	assert.NoFileExists(t, filepath.Join(runtimeDir, "session.key"))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))

	require.NoError(t, store.SetAPIKey("sk-mem-2"))
	assert.NoDirExists(t, dataDir)
}

func TestClearAPIKeyRemovesEverywhere(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	require.NoError(t, store.SetAPIKey("sk-clear"))
	require.NoError(t, store.ClearAPIKey())

	assert.False(t, store.HasAPIKey())
	assert.NoFileExists(t, filepath.Join(runtimeDir, "session.key"))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))

	// Clearing twice is fine
	assert.NoError(t, store.ClearAPIKey())
}

func TestSetAPIKeyRejectsEmpty(t *testing.T) {
	store, _, _ := newTestStore(t, StorageSession)
	assert.Error(t, store.SetAPIKey("   "))
	assert.False(t, store.HasAPIKey())
}

func TestLoadOverrideStaysInMemory(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	require.NoError(t, store.Load("sk-env"))
	assert.Equal(t, "sk-env", store.APIKey())
	assert.NoFileExists(t, filepath.Join(runtimeDir, "session.key"))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))
}

func TestOverrideIsNeverMoved(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	require.NoError(t, store.SetAPIKey("sk-stored"))

	withEnv := NewCredentialStoreAt(StorageLocal, dataDir, runtimeDir)
	require.NoError(t, withEnv.Load("sk-env"))
	require.NoError(t, withEnv.SetStorageType(StorageSession))

	data, err := os.ReadFile(filepath.Join(runtimeDir, "session.key"))
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", string(data))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))
	assert.Equal(t, "sk-env", withEnv.APIKey())

	reloaded := NewCredentialStoreAt(StorageSession, dataDir, runtimeDir)
	require.NoError(t, reloaded.Load(""))
	assert.Equal(t, "sk-stored", reloaded.APIKey())
}

func TestOverrideWithoutStoredKeyWritesNothing(t *testing.T) {
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	require.NoError(t, store.Load("sk-env"))
	require.NoError(t, store.SetStorageType(StorageSession))

	assert.NoFileExists(t, filepath.Join(runtimeDir, "session.key"))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))
	assert.Equal(t, "sk-env", store.APIKey())
}

func TestSetSealerKeepsStoredKeyUnderOverride(t *testing.T) {
	keyPath := writeTestSSHKey(t, "")
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	require.NoError(t, store.SetAPIKey("sk-stored"))

	withEnv := NewCredentialStoreAt(StorageLocal, dataDir, runtimeDir)
	require.NoError(t, withEnv.Load("sk-env"))
	require.NoError(t, withEnv.SetSealer(NewSealer(keyPath)))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))

	reloaded := NewCredentialStoreAt(StorageLocal, dataDir, runtimeDir).WithSealer(NewSealer(keyPath))
	require.NoError(t, reloaded.Load(""))
	assert.Equal(t, "sk-stored", reloaded.APIKey())
}

func TestLoadMissingKeyIsNotAnError(t *testing.T) {
	store, _, _ := newTestStore(t, StorageLocal)
	require.NoError(t, store.Load(""))
	assert.False(t, store.HasAPIKey())
}

func TestEncryptedLocalStorage(t *testing.T) {
	keyPath := writeTestSSHKey(t, "")
	store, dataDir, runtimeDir := newTestStore(t, StorageLocal)
	store.WithSealer(NewSealer(keyPath))

	require.NoError(t, store.SetAPIKey("sk-sealed"))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))

	sealed, err := os.ReadFile(filepath.Join(dataDir, "credentials.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sk-sealed")

	reloaded := NewCredentialStoreAt(StorageLocal, dataDir, runtimeDir).WithSealer(NewSealer(keyPath))
	require.NoError(t, reloaded.Load(""))
	assert.Equal(t, "sk-sealed", reloaded.APIKey())
}

func TestSetSealerMovesLocalKey(t *testing.T) {
	keyPath := writeTestSSHKey(t, "")
	store, dataDir, _ := newTestStore(t, StorageLocal)
	require.NoError(t, store.SetAPIKey("sk-plain"))
	require.FileExists(t, filepath.Join(dataDir, "credentials.toml"))

	require.NoError(t, store.SetSealer(NewSealer(keyPath)))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.toml"))
	assert.FileExists(t, filepath.Join(dataDir, "credentials.enc"))

	require.NoError(t, store.SetSealer(nil))
	assert.NoFileExists(t, filepath.Join(dataDir, "credentials.enc"))
	assert.FileExists(t, filepath.Join(dataDir, "credentials.toml"))
	assert.Equal(t, "sk-plain", store.APIKey())
}

func TestUpdateUserConfigKeepsOtherSettings(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, SaveUserConfig(&UserConfig{
		Backend: BackendConfig{BaseURL: "https://agents.example.com"},
	}, dataDir))

	require.NoError(t, UpdateUserConfig(dataDir, func(u *UserConfig) {
		u.Credentials.Storage = string(StorageLocal)
	}))

	u, err := LoadUserConfig(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "https://agents.example.com", u.Backend.BaseURL)
	assert.Equal(t, "local", u.Credentials.Storage)
}

func TestSealerPassphrase(t *testing.T) {
	keyPath := writeTestSSHKey(t, "hunter2")

	encrypted, err := IsSSHKeyEncrypted(keyPath)
	require.NoError(t, err)
	assert.True(t, encrypted)

	s := NewSealer(keyPath)
	_, err = s.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	s.SetPassphrase("hunter2")
	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))

	_, err = s.Open(sealed[:4])
	assert.Error(t, err)
}

func TestFindSSHKeys(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeTestSSHKey(t, "")
	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_ed25519"), data, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, dedicatedKeyName), data, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_rsa"), []byte("not a key"), 0600))

	keys, err := FindSSHKeys(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, dedicatedKeyName),
		filepath.Join(dir, "id_ed25519"),
	}, keys)

	keys, err = FindSSHKeys(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, keys)
}
