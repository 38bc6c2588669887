// Package secretbox seals small secrets (the provider token set) with
// AES-256-GCM. Output format: base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EnvMasterKey holds the base64-encoded 32-byte master key.
	EnvMasterKey = "AUTHBRIDGE_MASTER_KEY"

	requiredKeyLength = 32 // AES-256
	sep               = "|"
)

var ErrKeyNotConfigured = errors.New("master key not configured")

// Box seals and opens values under one master key.
type Box struct {
	key []byte
}

// New builds a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", requiredKeyLength, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// FromEnv builds a Box from AUTHBRIDGE_MASTER_KEY (base64).
// Generate one with: openssl rand -base64 32
func FromEnv() (*Box, error) {
	kb64 := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if kb64 == "" {
		return nil, fmt.Errorf("%w: set %s", ErrKeyNotConfigured, EnvMasterKey)
	}
	k, err := base64.StdEncoding.DecodeString(kb64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EnvMasterKey, err)
	}
	return New(k)
}

// Seal encrypts plain and returns base64(nonce)|base64(ciphertext).
func (b *Box) Seal(plain []byte) (string, error) {
	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := aesgcm.Seal(nil, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) ([]byte, error) {
	parts := strings.SplitN(sealed, sep, 2)
	if len(parts) != 2 {
		return nil, errors.New("malformed sealed value")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	aesgcm, err := b.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, errors.New("bad nonce size")
	}
	plain, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.New("decryption failed")
	}
	return plain, nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return cipher.NewGCM(block)
}
