package pkce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifier(t *testing.T) {
	a, err := NewVerifier()
	require.NoError(t, err)
	b, err := NewVerifier()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestChallengeKnownVector(t *testing.T) {
	// Appendix B of RFC 7636.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", Challenge(verifier))
}

func TestVerify(t *testing.T) {
	verifier, err := NewVerifier()
	require.NoError(t, err)

	assert.True(t, Verify(verifier, Challenge(verifier)))
	assert.False(t, Verify(verifier, Challenge("other")))
	assert.False(t, Verify(verifier, ""))
}
