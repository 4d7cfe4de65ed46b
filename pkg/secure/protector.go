// Package secure turns tickets and property bags into opaque, tamper-evident,
// URL-safe strings and back. Unprotect fails closed: any malformed, forged or
// truncated payload yields "no value" with no indication of which stage
// rejected it.
package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

// Protector is the reversible, tamper-evident encryption primitive the secure
// formats are built on.
type Protector interface {
	// Protect encrypts and authenticates data.
	Protect(data []byte) ([]byte, error)

	// Unprotect decrypts and verifies data previously produced by Protect.
	Unprotect(data []byte) ([]byte, error)
}

// aeadProtector implements Protector with XChaCha20-Poly1305 under a key
// derived from a master key and a purpose chain.
type aeadProtector struct {
	aead cipher.AEAD
}

// NewAEADProtector derives a purpose-specific key from masterKey via
// HKDF-SHA256 and returns an authenticated-encryption protector. Purposes are
// namespaced by handler type, scheme name and format version so a payload
// protected for one scheme or version can never be unprotected under another.
func NewAEADProtector(masterKey []byte, purposes ...string) (Protector, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("master key must be at least 16 bytes, got %d", len(masterKey))
	}
	if len(purposes) == 0 {
		return nil, fmt.Errorf("at least one purpose is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(strings.Join(purposes, ":")))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cipher construction failed: %w", err)
	}
	return &aeadProtector{aead: aead}, nil
}

func (p *aeadProtector) Protect(data []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return p.aead.Seal(nonce, nonce, data, nil), nil
}

func (p *aeadProtector) Unprotect(data []byte) ([]byte, error) {
	if len(data) < p.aead.NonceSize() {
		return nil, fmt.Errorf("payload too short")
	}
	nonce, ciphertext := data[:p.aead.NonceSize()], data[p.aead.NonceSize():]
	plain, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("payload rejected")
	}
	return plain, nil
}
