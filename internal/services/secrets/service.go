// Package secrets provides symmetric encryption for stored credentials.
// Passwords are encrypted at rest with AES-256-GCM under a process-wide
// key; plaintext exists only transiently during a login attempt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/common"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize = 32

	// pbkdf2Iterations is deliberately high; key derivation happens once
	// at startup, not per request
	pbkdf2Iterations = 480000
)

// pbkdf2Salt is fixed so the same passphrase always derives the same key
// across restarts. The passphrase itself is the secret.
var pbkdf2Salt = []byte("authrelay-credential-store")

// ErrDecryptionFailed indicates the stored ciphertext could not be
// decrypted with the configured key. This is fatal for the affected
// credential: retrying cannot help, the key or the data is wrong.
var ErrDecryptionFailed = errors.New("credential decryption failed")

// Service implements the SecretsService interface
type Service struct {
	key    []byte
	logger arbor.ILogger
}

var _ interfaces.SecretsService = (*Service)(nil)

// NewService creates a secrets service from the encryption config.
// Key resolution order: explicit base64 key, passphrase derivation,
// key file (auto-generated on first run).
func NewService(config *common.EncryptionConfig, logger arbor.ILogger) (*Service, error) {
	key, err := resolveKey(config, logger)
	if err != nil {
		return nil, err
	}
	return &Service{key: key, logger: logger}, nil
}

func resolveKey(config *common.EncryptionConfig, logger arbor.ILogger) ([]byte, error) {
	if config.Key != "" {
		key, err := base64.StdEncoding.DecodeString(config.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode encryption key: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
		}
		return key, nil
	}

	if config.Passphrase != "" {
		logger.Debug().Msg("Deriving encryption key from passphrase")
		return pbkdf2.Key([]byte(config.Passphrase), pbkdf2Salt, pbkdf2Iterations, keySize, sha256.New), nil
	}

	if config.KeyFile == "" {
		return nil, fmt.Errorf("no encryption key, passphrase, or key file configured")
	}
	return loadOrCreateKeyFile(config.KeyFile, logger)
}

// loadOrCreateKeyFile reads the key file, generating a fresh random key
// on first run
func loadOrCreateKeyFile(path string, logger arbor.ILogger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(string(data))
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode key file %s: %w", path, decodeErr)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("key file %s must contain a %d-byte key, got %d", path, keySize, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	// First run, generate and persist a new key
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create key file directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file %s: %w", path, err)
	}

	logger.Warn().Str("path", path).Msg("Generated new encryption key, back this file up")
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM. The nonce is prepended
// to the ciphertext.
func (s *Service) Encrypt(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt decrypts nonce-prefixed AES-256-GCM ciphertext. Any failure
// maps to ErrDecryptionFailed; the underlying cause is not recoverable
// by retrying.
func (s *Service) Decrypt(ciphertext []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptionFailed)
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
