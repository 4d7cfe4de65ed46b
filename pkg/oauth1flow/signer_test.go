package oauth1flow

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseOAuthHeader splits an "OAuth k="v", ..." header into decoded pairs.
func parseOAuthHeader(t *testing.T, header string) map[string]string {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "OAuth "))
	params := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		k, v, found := strings.Cut(part, "=")
		require.True(t, found)
		decoded, err := url.QueryUnescape(strings.Trim(v, `"`))
		require.NoError(t, err)
		params[k] = decoded
	}
	return params
}

// The worked example from Twitter's request-signing documentation.
func TestSignerKnownVector(t *testing.T) {
	s := newSigner("xvz1evFS4wEEPTGEFPHBog", "kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw")
	s.nonce = func() (string, error) { return "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg", nil }
	s.now = func() time.Time { return time.Unix(1318622958, 0) }

	header, err := s.authorizationHeader("POST",
		"https://api.twitter.com/1/statuses/update.json?include_entities=true",
		url.Values{"status": {"Hello Ladies + Gentlemen, a signed OAuth request!"}},
		nil,
		"370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		"LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE")
	require.NoError(t, err)

	params := parseOAuthHeader(t, header)
	assert.Equal(t, "tnnArxj06cWHq44gCs1OSKk/jLY=", params["oauth_signature"])
	assert.Equal(t, "HMAC-SHA1", params["oauth_signature_method"])
	assert.Equal(t, "1318622958", params["oauth_timestamp"])
	assert.Equal(t, "1.0", params["oauth_version"])
}

func TestSignerIncludesExtraOAuthParams(t *testing.T) {
	s := newSigner("key", "secret")
	header, err := s.authorizationHeader("POST", "https://api.twitter.com/oauth/request_token",
		nil, map[string]string{"oauth_callback": "https://app.example/signin-twitter"}, "", "")
	require.NoError(t, err)

	params := parseOAuthHeader(t, header)
	assert.Equal(t, "https://app.example/signin-twitter", params["oauth_callback"])
	assert.Equal(t, "key", params["oauth_consumer_key"])
	assert.NotEmpty(t, params["oauth_signature"])
	assert.NotContains(t, params, "oauth_token")
}

func TestSignerNoncesAreUnique(t *testing.T) {
	a, err := newNonce()
	require.NoError(t, err)
	b, err := newNonce()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPercentEncode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abcABC123", "abcABC123"},
		{"-._~", "-._~"},
		{"Hello Ladies + Gentlemen", "Hello%20Ladies%20%2B%20Gentlemen"},
		{"안녕", "%EC%95%88%EB%85%95"},
		{"a&b=c", "a%26b%3Dc"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, percentEncode(tc.in))
	}
}
