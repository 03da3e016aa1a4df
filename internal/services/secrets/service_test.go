package secrets

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/common"
)

func base64Key(b byte) string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewService(&common.EncryptionConfig{Key: base64Key(1)}, arbor.NewLogger())
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "hunter2")

	plaintext, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	svc, err := NewService(&common.EncryptionConfig{Key: base64Key(1)}, arbor.NewLogger())
	require.NoError(t, err)

	first, err := svc.Encrypt("hunter2")
	require.NoError(t, err)
	second, err := svc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	encryptor, err := NewService(&common.EncryptionConfig{Key: base64Key(1)}, arbor.NewLogger())
	require.NoError(t, err)
	decryptor, err := NewService(&common.EncryptionConfig{Key: base64Key(2)}, arbor.NewLogger())
	require.NoError(t, err)

	ciphertext, err := encryptor.Encrypt("hunter2")
	require.NoError(t, err)

	_, err = decryptor.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	svc, err := NewService(&common.EncryptionConfig{Key: base64Key(1)}, arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc.Decrypt([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestInvalidConfiguredKey(t *testing.T) {
	_, err := NewService(&common.EncryptionConfig{Key: "not-base64!!"}, arbor.NewLogger())
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = NewService(&common.EncryptionConfig{Key: short}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestPassphraseDerivationIsStable(t *testing.T) {
	cfg := &common.EncryptionConfig{Passphrase: "correct horse battery staple"}

	first, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)
	ciphertext, err := first.Encrypt("hunter2")
	require.NoError(t, err)

	// A fresh service with the same passphrase must decrypt old data
	second, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)
	plaintext, err := second.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestKeyFileAutoGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "encryption.key")
	cfg := &common.EncryptionConfig{KeyFile: path}

	first, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ciphertext, err := first.Encrypt("hunter2")
	require.NoError(t, err)

	// A restart loads the persisted key
	second, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)
	plaintext, err := second.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestCorruptKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.key")
	require.NoError(t, os.WriteFile(path, []byte("not valid base64!!"), 0600))

	_, err := NewService(&common.EncryptionConfig{KeyFile: path}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestNoKeySourceConfigured(t *testing.T) {
	_, err := NewService(&common.EncryptionConfig{}, arbor.NewLogger())
	assert.Error(t, err)
}
