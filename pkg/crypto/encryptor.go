// Package crypto provides the symmetric encryption primitive used to protect
// refresh secrets and state payloads at rest and in transit.
// AES-256-GCM is used for encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/navikt/polly-sub000/pkg/errors"
)

const (
	// KeyLength is the required key size in bytes (AES-256).
	KeyLength = 32

	// SaltLength is the size in bytes of the random salt (the GCM nonce)
	// drawn for every Encrypt call.
	SaltLength = 12

	// EncodedSaltLength is the length of a salt after base64url encoding.
	// Callers that split salt and ciphertext across two storage locations
	// rely on this being fixed; the salt is always recovered by length,
	// never by a delimiter.
	EncodedSaltLength = 16
)

// Encryptor encrypts and decrypts short secrets with a process-wide key.
// Each call to Encrypt draws a fresh random salt, so encrypting the same
// plaintext twice yields different ciphertexts. Rotating the key invalidates
// everything encrypted under the old one; sessions are short-lived and
// reauthentication is the accepted recovery.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a raw 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeyLength {
		return nil, errors.NewInvalidInputError(
			fmt.Sprintf("encryption key must be %d bytes, got %d", KeyLength, len(key)), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromBase64 creates an Encryptor from a base64-encoded key,
// the form the key takes in configuration.
func NewEncryptorFromBase64(encoded string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewInvalidInputError("encryption key is not valid base64", err)
	}
	return NewEncryptor(key)
}

// GenerateKey returns a fresh random 32-byte key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// EncryptParts encrypts plaintext and returns the salt and ciphertext as two
// separate base64url strings. The salt is always EncodedSaltLength characters.
func (e *Encryptor) EncryptParts(plaintext string) (salt, ciphertext string, err error) {
	nonce := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(sealed),
		nil
}

// Encrypt encrypts plaintext and returns salt‖ciphertext as a single string.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	salt, ciphertext, err := e.EncryptParts(plaintext)
	if err != nil {
		return "", err
	}
	return salt + ciphertext, nil
}

// DecryptParts decrypts a (salt, ciphertext) pair produced by EncryptParts.
func (e *Encryptor) DecryptParts(salt, ciphertext string) (string, error) {
	nonce, err := base64.RawURLEncoding.DecodeString(salt)
	if err != nil {
		return "", errors.NewInvalidInputError("salt is not valid base64url", err)
	}
	if len(nonce) != SaltLength {
		return "", errors.NewInvalidInputError(
			fmt.Sprintf("salt must be %d bytes, got %d", SaltLength, len(nonce)), nil)
	}

	sealed, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.NewInvalidInputError("ciphertext is not valid base64url", err)
	}

	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.NewInvalidInputError("decryption failed", err)
	}
	return string(plaintext), nil
}

// Decrypt decrypts a salt‖ciphertext string produced by Encrypt. The salt is
// recovered from the fixed-length prefix.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if len(encoded) <= EncodedSaltLength {
		return "", errors.NewInvalidInputError("encrypted value shorter than salt", nil)
	}
	return e.DecryptParts(encoded[:EncodedSaltLength], encoded[EncodedSaltLength:])
}
