package secure

import (
	"encoding/base64"
	"fmt"
)

// Serializer converts a value to and from its binary wire form. Deserialize
// reports false instead of an error so callers cannot distinguish a malformed
// payload from a version mismatch.
type Serializer[T any] interface {
	Serialize(value T) ([]byte, error)
	Deserialize(data []byte) (T, bool)
}

// Format composes a serializer, a protector and URL-safe base64 into the
// opaque string representation carried through untrusted client storage
// (cookies, query strings).
type Format[T any] struct {
	serializer Serializer[T]
	protector  Protector
}

// NewFormat builds a secure format from a serializer and a protector.
func NewFormat[T any](s Serializer[T], p Protector) *Format[T] {
	return &Format[T]{serializer: s, protector: p}
}

// Protect serializes, encrypts and text-encodes value. It does not fail on any
// valid value; an error indicates a programming or entropy failure.
func (f *Format[T]) Protect(value T) (string, error) {
	raw, err := f.serializer.Serialize(value)
	if err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	sealed, err := f.protector.Protect(raw)
	if err != nil {
		return "", fmt.Errorf("protect: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect reverses Protect. On any failure — malformed text, failed
// decryption or authentication, malformed payload, version mismatch — it
// returns the zero value and false. The stages are deliberately
// indistinguishable to the caller.
func (f *Format[T]) Unprotect(protected string) (T, bool) {
	var zero T
	if protected == "" {
		return zero, false
	}
	sealed, err := base64.RawURLEncoding.DecodeString(protected)
	if err != nil {
		return zero, false
	}
	raw, err := f.protector.Unprotect(sealed)
	if err != nil {
		return zero, false
	}
	return f.serializer.Deserialize(raw)
}
