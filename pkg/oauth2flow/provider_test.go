package oauth2flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/pkce"
	"github.com/authkit/authkit/pkg/remote"
	"github.com/authkit/authkit/pkg/ticket"
)

func testConfig() Config {
	return Config{
		ClientID:              "client-id",
		ClientSecret:          "client-secret",
		AuthorizationEndpoint: "https://provider.example/authorize",
		TokenEndpoint:         "https://provider.example/token",
		UserInfoEndpoint:      "https://provider.example/userinfo",
		Scopes:                []string{"openid", "email"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing client id", func(c *Config) { c.ClientID = "" }, true},
		{"missing secret", func(c *Config) { c.ClientSecret = "" }, true},
		{"missing secret with PKCE", func(c *Config) { c.ClientSecret = ""; c.UsePKCE = true }, false},
		{"relative authorization endpoint", func(c *Config) { c.AuthorizationEndpoint = "/authorize" }, true},
		{"missing token endpoint", func(c *Config) { c.TokenEndpoint = "" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildChallengeURL(t *testing.T) {
	p, err := New("google", testConfig())
	require.NoError(t, err)

	authURL, err := p.BuildChallengeURL(context.Background(),
		"https://app.example/signin-google", "opaque-state", ticket.NewProperties())
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://app.example/signin-google", q.Get("redirect_uri"))
	assert.Equal(t, "opaque-state", q.Get("state"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Empty(t, q.Get("code_challenge"))
}

func TestBuildChallengeURLWithPKCE(t *testing.T) {
	cfg := testConfig()
	cfg.UsePKCE = true
	p, err := New("google", cfg)
	require.NoError(t, err)

	props := ticket.NewProperties()
	require.NoError(t, p.PrepareChallenge(context.Background(), props))
	verifier := props.GetString(".code_verifier")
	require.NotEmpty(t, verifier)

	authURL, err := p.BuildChallengeURL(context.Background(), "https://app.example/cb", "s", props)
	require.NoError(t, err)

	q, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, pkce.Challenge(verifier), q.Query().Get("code_challenge"))
	assert.Equal(t, pkce.MethodS256, q.Query().Get("code_challenge_method"))
}

func TestUnpackCallback(t *testing.T) {
	p, err := New("google", testConfig())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet,
		"/signin-google?state=s&code=c&error=access_denied&error_description=user+refused", nil)
	cb := p.UnpackCallback(r)
	assert.Equal(t, "s", cb.State)
	assert.Equal(t, "c", cb.Proof)
	assert.Equal(t, "access_denied: user refused", cb.ProviderError)
}

func TestExchangeConsumesVerifier(t *testing.T) {
	var gotVerifier string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotVerifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.TokenEndpoint = srv.URL
	cfg.UsePKCE = true
	cfg.ClientSecret = ""
	p, err := New("google", cfg)
	require.NoError(t, err)

	props := ticket.NewProperties()
	props.SetString(".code_verifier", "the-verifier")

	tokens, err := p.Exchange(context.Background(), remote.Callback{Proof: "code"},
		"https://app.example/cb", props)
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.Equal(t, "the-verifier", gotVerifier)
	assert.Equal(t, "", props.GetString(".code_verifier"), "single use")
}

func TestExchangeProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.TokenEndpoint = srv.URL
	p, err := New("google", cfg)
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), remote.Callback{Proof: "code"}, "https://app.example/cb", ticket.NewProperties())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Status: 400")
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestBuildPrincipalFromUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"123","name":"Alice","email":"alice@example.com","picture":"https://p/1.png"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.UserInfoEndpoint = srv.URL
	p, err := New("google", cfg)
	require.NoError(t, err)

	principal, err := p.BuildPrincipal(context.Background(), &remote.TokenSet{AccessToken: "at"}, ticket.NewProperties())
	require.NoError(t, err)

	require.True(t, principal.IsAuthenticated())
	id := principal.PrimaryIdentity()
	assert.Equal(t, "google", id.AuthenticationType)
	assert.Equal(t, "Alice", principal.Name())

	sub, ok := principal.FindFirst(identity.ClaimTypeNameIdentifier)
	require.True(t, ok)
	assert.Equal(t, "123", sub.Value)
	assert.Equal(t, "google", sub.Issuer)
}

func TestBuildPrincipalUserInfoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.UserInfoEndpoint = srv.URL
	p, err := New("google", cfg)
	require.NoError(t, err)

	_, err = p.BuildPrincipal(context.Background(), &remote.TokenSet{AccessToken: "at"}, ticket.NewProperties())
	assert.Error(t, err)
}
