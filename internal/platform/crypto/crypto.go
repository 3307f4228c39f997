// Package crypto encrypts personal fields stored in the registry, such as a
// tenant's admin contact or a company name carried in a token.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const ciphertextPrefix = "enc:v1:"

var (
	ErrKeyRequired   = errors.New("field encryption key is required")
	ErrKeyInvalid    = errors.New("field encryption key is invalid")
	ErrEncryptFailed = errors.New("field encryption failed")
	ErrDecryptFailed = errors.New("field decryption failed")
)

// FieldCrypto encrypts and decrypts single string fields with AES-256-GCM.
type FieldCrypto struct {
	aead cipher.AEAD
	rand io.Reader
}

// New creates a FieldCrypto from a base64-encoded 32-byte key.
func New(base64Key string) (*FieldCrypto, error) {
	trimmed := strings.TrimSpace(base64Key)
	if trimmed == "" {
		return nil, ErrKeyRequired
	}

	key, err := decodeKey(trimmed)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, ErrKeyInvalid
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrKeyInvalid, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", ErrKeyInvalid, err)
	}

	return &FieldCrypto{aead: aead, rand: rand.Reader}, nil
}

// IsEncrypted reports whether value looks like field ciphertext.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), ciphertextPrefix)
}

// Encrypt seals plaintext and prefixes it with the version marker.
func (c *FieldCrypto) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrKeyRequired
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptFailed, err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *FieldCrypto) Decrypt(value string) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrKeyRequired
	}
	if !IsEncrypted(value) {
		return "", fmt.Errorf("%w: value is not encrypted", ErrDecryptFailed)
	}

	encoded := strings.TrimPrefix(strings.TrimSpace(value), ciphertextPrefix)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decoding payload: %v", ErrDecryptFailed, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: payload too short", ErrDecryptFailed)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: opening ciphertext: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}

func decodeKey(base64Key string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(base64Key); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(base64Key); err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: invalid base64 key", ErrKeyInvalid)
}
