// Package pkce implements the Proof Key for Code Exchange extension (RFC
// 7636) used by the OAuth2 authorization-code flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// MethodS256 is the only challenge method this package produces; "plain"
// defeats the point of the extension.
const MethodS256 = "S256"

// NewVerifier generates a cryptographically random code verifier: 32 random
// bytes, base64url encoded without padding (43 characters, within the RFC
// 7636 bounds).
func NewVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify reports whether verifier matches the S256 challenge, in constant
// time.
func Verify(verifier, challenge string) bool {
	derived := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}
