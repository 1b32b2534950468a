package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// EncryptionMethod selects how the durable credential file is written.
type EncryptionMethod string

const (
	EncryptionNone   EncryptionMethod = "none"
	EncryptionSSHKey EncryptionMethod = "ssh_key"
)

// keyDerivationMessage is signed with the user's SSH key; the signature hash is
// the AES key. Changing it makes existing credentials.enc files unreadable.
const keyDerivationMessage = "agentdash-credential-key-v1"

// ErrPassphraseRequired is returned when the SSH key is encrypted and no
// passphrase was supplied.
var ErrPassphraseRequired = errors.New("SSH key is encrypted - passphrase required")

// Sealer encrypts the durable credential file with an AES key derived from an
// SSH private key signature. The same key always derives the same AES key.
type Sealer struct {
	sshKeyPath string
	passphrase string
	aesKey     []byte
}

func NewSealer(sshKeyPath string) *Sealer {
	return &Sealer{sshKeyPath: ExpandPath(sshKeyPath)}
}

func (s *Sealer) SetPassphrase(passphrase string) {
	s.passphrase = passphrase
	s.aesKey = nil
}

func (s *Sealer) init() error {
	if s.aesKey != nil {
		return nil
	}

	keyData, err := os.ReadFile(s.sshKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read SSH key: %w", err)
	}

	signer, err := parseSSHKey(keyData, s.passphrase)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(rand.Reader, []byte(keyDerivationMessage))
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	sum := sha256.Sum256(sig.Blob)
	s.aesKey = sum[:]
	return nil
}

func parseSSHKey(keyData []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(keyData)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) && !strings.Contains(err.Error(), "encrypted") {
		return nil, fmt.Errorf("invalid SSH key: %w", err)
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key (wrong passphrase?): %w", err)
	}
	return signer, nil
}

// Seal encrypts plaintext as [nonce][ciphertext+tag] with AES-256-GCM.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	gcm, err := newGCM(s.aesKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	gcm, err := newGCM(s.aesKey)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
