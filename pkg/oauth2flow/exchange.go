package oauth2flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/authkit/authkit/pkg/backchannel"
)

// TokenResponse is the ephemeral result of a code-for-token exchange. A
// provider failure is carried in Error rather than raised: an expired code or
// a bad client secret is a routine condition, not an exceptional one.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	ExpiresIn    int64

	// Error holds the diagnostic (status, headers, body) for a failed
	// exchange, or "" on success.
	Error string
}

// Failed reports whether the exchange was rejected by the provider.
func (t *TokenResponse) Failed() bool { return t.Error != "" }

// ExchangeAuthorizationCode posts the authorization-code grant to a token
// endpoint over the backchannel. codeVerifier is the PKCE verifier, or ""
// when PKCE is not in use. Network-level failures return an error; a provider
// rejection returns a TokenResponse carrying the diagnostic. Shared by the
// plain OAuth2 flow and the OIDC flow, whose endpoint comes from discovery.
func ExchangeAuthorizationCode(ctx context.Context, bc *backchannel.Client, tokenEndpoint, clientID, clientSecret, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	resp, err := bc.PostForm(ctx, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return &TokenResponse{Error: fmt.Sprintf("OAuth token endpoint failure: %s", resp.Diagnostic())}, nil
	}
	tokens, err := ParseTokenResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("token response parsing failed: %w", err)
	}
	return tokens, nil
}

// ExchangeCode trades an authorization code for tokens at this provider's
// token endpoint.
func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	tokens, err := ExchangeAuthorizationCode(ctx, p.bc, p.cfg.TokenEndpoint,
		p.cfg.ClientID, p.cfg.ClientSecret, code, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}
	if tokens.Failed() {
		slog.Warn("token endpoint rejected exchange", "provider", p.name)
	} else {
		slog.Debug("token exchange succeeded", "provider", p.name, "token_type", tokens.TokenType)
	}
	return tokens, nil
}

// ParseTokenResponse decodes a successful token response. Missing fields are
// tolerated and left empty; only malformed JSON is fatal. expires_in arrives
// as a number from most providers and as a string from some.
func ParseTokenResponse(body []byte) (*TokenResponse, error) {
	var raw struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		TokenType    string      `json:"token_type"`
		IDToken      string      `json:"id_token"`
		ExpiresIn    interface{} `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	tokens := &TokenResponse{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		TokenType:    raw.TokenType,
		IDToken:      raw.IDToken,
	}
	switch v := raw.ExpiresIn.(type) {
	case float64:
		tokens.ExpiresIn = int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			tokens.ExpiresIn = n
		}
	}
	return tokens, nil
}
