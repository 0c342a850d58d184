package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/polly-sub000/pkg/errors"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewEncryptorFromBase64(key)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	t.Parallel()

	_, err := NewEncryptor([]byte("too short"))
	assert.True(t, errors.IsInvalidInput(err))

	_, err = NewEncryptorFromBase64("not base64 at all!!!")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	enc := newTestEncryptor(t)

	plaintexts := []string{
		"",
		"a",
		"refresh-token-value-from-provider",
		strings.Repeat("long", 500),
		`{"redirectUri":"https://app.example/home","correlationId":"abc"}`,
	}

	for _, p := range plaintexts {
		encoded, err := enc.Encrypt(p)
		require.NoError(t, err)

		decoded, err := enc.Decrypt(encoded)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	t.Parallel()
	enc := newTestEncryptor(t)

	first, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first[:EncodedSaltLength], second[:EncodedSaltLength])
}

func TestEncryptPartsSplitAndReattach(t *testing.T) {
	t.Parallel()
	enc := newTestEncryptor(t)

	salt, ciphertext, err := enc.EncryptParts("the refresh secret")
	require.NoError(t, err)
	assert.Len(t, salt, EncodedSaltLength)

	plaintext, err := enc.DecryptParts(salt, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "the refresh secret", plaintext)

	// Reattaching the parts must be equivalent to the combined form.
	combined, err := enc.Decrypt(salt + ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "the refresh secret", combined)
}

func TestDecryptShortInput(t *testing.T) {
	t.Parallel()
	enc := newTestEncryptor(t)

	for _, input := range []string{"", "short", strings.Repeat("x", EncodedSaltLength)} {
		_, err := enc.Decrypt(input)
		assert.True(t, errors.IsInvalidInput(err), "input %q", input)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	t.Parallel()
	enc := newTestEncryptor(t)

	encoded, err := enc.Encrypt("sensitive")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(encoded[EncodedSaltLength:])
	require.NoError(t, err)
	raw[0] ^= 0xff
	tampered := encoded[:EncodedSaltLength] + base64.RawURLEncoding.EncodeToString(raw)

	_, err = enc.Decrypt(tampered)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
	assert.NotContains(t, err.Error(), "sensitive")
}

func TestDecryptWithWrongKey(t *testing.T) {
	t.Parallel()

	enc := newTestEncryptor(t)
	other := newTestEncryptor(t)

	encoded, err := enc.Encrypt("secret material")
	require.NoError(t, err)

	_, err = other.Decrypt(encoded)
	assert.True(t, errors.IsInvalidInput(err))
}
