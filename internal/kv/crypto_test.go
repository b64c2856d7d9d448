package kv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-encryption-secret-32-chars-long!"

func TestNewEncryptorDisabledByDefault(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", "")

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.Enabled())
}

func TestNewEncryptorRequiresSecret(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", "")

	_, err := NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHATSLENS_ENCRYPTION_SECRET")
}

func TestNewEncryptorRejectsShortSecret(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", "too-short")

	_, err := NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	tests := []struct {
		name string
		blob []byte
	}{
		{"auth blob", []byte(`{"device":"ABCDEF:12.0","keys":{"noise":"base64data"}}`)},
		{"binary", []byte{0x00, 0x01, 0xFF, 0xFE, 0x7F}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.blob)
			require.NoError(t, err)

			if len(tt.blob) > 0 {
				assert.False(t, bytes.Equal(tt.blob, sealed), "ciphertext should differ from plaintext")
			}

			opened, err := enc.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.blob, opened)
		})
	}
}

func TestEncryptUsesUniqueNonces(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	blob := []byte("same plaintext every time")
	first, err := enc.Encrypt(blob)
	require.NoError(t, err)
	second, err := enc.Encrypt(blob)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first, second), "two encryptions of the same blob must not match")
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "true")
	t.Setenv("WHATSLENS_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte("credentials"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = enc.Decrypt(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestDisabledEncryptorPassesThrough(t *testing.T) {
	t.Setenv("WHATSLENS_ENABLE_ENCRYPTION", "")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	blob := []byte("plaintext blob")
	sealed, err := enc.Encrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, blob, sealed)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, blob, opened)
}
