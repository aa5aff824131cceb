package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "correct horse")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	// Raw key wins over everything.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Encrypted file path is the fallback.
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Nothing configured is an error.
	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
