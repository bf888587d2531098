package canarystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// BackendCipher seals stored payloads with AES-256-GCM.
// Each payload is written as nonce || ciphertext.
type BackendCipher struct {
	aead cipher.AEAD
}

// NewBackendCipher creates a cipher from a 32-byte AES-256 key
func NewBackendCipher(key []byte) (*BackendCipher, error) {
	if len(key) != 32 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"expected_key_length": 32,
			"actual_key_length":   len(key),
			"reason":              "AES-256 requires 32-byte key",
		})
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &BackendCipher{aead: aead}, nil
}

// ParseBackendCipher decodes a base64 encoded key and creates a cipher from it
func ParseBackendCipher(encoded string) (*BackendCipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "encryption_key",
			"reason": "key must be base64 encoded",
		})
	}
	return NewBackendCipher(key)
}

func (c *BackendCipher) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *BackendCipher) open(key string, sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, WithContext(ErrDeserialize, map[string]interface{}{
			"key":        key,
			"reason":     "ciphertext too short",
			"min_length": nonceSize,
			"actual":     len(sealed),
		})
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, WithContext(ErrDeserialize, map[string]interface{}{
			"key":    key,
			"reason": "decryption failed",
		})
	}
	return plaintext, nil
}

// EncryptedBackend encrypts payloads before they reach the wrapped backend.
// The wrapped backend checksums the ciphertext; the plaintext checksum is
// checked before sealing. It is a comparable value so the same account
// always yields an equal backend.
type EncryptedBackend struct {
	Backend
	cipher *BackendCipher
}

// NewEncryptedBackend wraps backend with c
func NewEncryptedBackend(backend Backend, c *BackendCipher) EncryptedBackend {
	return EncryptedBackend{Backend: backend, cipher: c}
}

// Put seals data and stores the ciphertext
func (e EncryptedBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	sealed, err := e.cipher.seal(data)
	if err != nil {
		return err
	}
	return e.Backend.Put(ctx, key, sealed, Checksum(sealed))
}

// Get loads and opens the ciphertext
func (e EncryptedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.Backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.cipher.open(key, sealed)
}

// encryptedAccount is implemented by accounts that may carry a cipher
type encryptedAccount interface {
	backendCipher() *BackendCipher
}

func withAccountCipher(account Account, backend Backend) Backend {
	ea, ok := account.(encryptedAccount)
	if !ok {
		return backend
	}
	if c := ea.backendCipher(); c != nil {
		return NewEncryptedBackend(backend, c)
	}
	return backend
}
