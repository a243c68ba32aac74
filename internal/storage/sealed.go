package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrCorrupt is returned when a sealed value cannot be authenticated
var ErrCorrupt = errors.New("sealed value is corrupt or was written with another key")

const sealInfo = "eshotry sealed store v1"

// SealedStore encrypts values at rest with XChaCha20-Poly1305. The record key
// is bound as associated data, so a value copied under another key fails to open.
type SealedStore struct {
	inner KeyValue
	aead  cipher.AEAD
}

// NewSealedStore derives an encryption key from secret and wraps inner
func NewSealedStore(inner KeyValue, secret string) (*SealedStore, error) {
	if secret == "" {
		return nil, errors.New("encryption key is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &SealedStore{inner: inner, aead: aead}, nil
}

// Get opens the value stored under key
func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrCorrupt
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]

	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

// Put seals value and stores it under key
func (s *SealedStore) Put(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.inner.Put(ctx, key, s.aead.Seal(nonce, nonce, value, []byte(key)))
}

// Delete removes key
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
