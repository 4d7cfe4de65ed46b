package oidcflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/authkit/authkit/pkg/backchannel"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/oauth2flow"
	"github.com/authkit/authkit/pkg/pkce"
	"github.com/authkit/authkit/pkg/remote"
	"github.com/authkit/authkit/pkg/ticket"
)

// Property keys carried inside the protected state for one round trip.
const (
	nonceKey        = ".nonce"
	codeVerifierKey = ".code_verifier"
)

// Config is the immutable OIDC provider configuration.
type Config struct {
	// Authority is the issuer base URL hosting the discovery document.
	Authority string

	ClientID     string
	ClientSecret string

	// Scopes always include "openid"; it is added when missing.
	Scopes []string

	UsePKCE bool

	// FetchUserInfo merges claims from the userinfo endpoint into the
	// identity, in addition to the id_token claims.
	FetchUserInfo bool

	// SkipIssuerValidation disables the strict issuer check on the id_token.
	// Needed for multi-tenant authorities whose discovery document publishes
	// a templated issuer that never matches the token literally.
	SkipIssuerValidation bool
}

// Validate reports configuration problems synchronously at registration.
func (c Config) Validate() error {
	if c.Authority == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "authority is required")
	}
	u, err := url.Parse(c.Authority)
	if err != nil || !u.IsAbs() {
		return errors.Newf(errors.ErrCodeConfigInvalid, "authority is not an absolute URL: %s", c.Authority)
	}
	if c.ClientID == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "client ID is required")
	}
	if c.ClientSecret == "" && !c.UsePKCE {
		return errors.New(errors.ErrCodeConfigInvalid, "client secret is required unless PKCE is enabled")
	}
	return nil
}

// Provider implements OpenID Connect authentication as a remote.Flow. Safe
// for concurrent use.
type Provider struct {
	name     string
	cfg      Config
	metadata *MetadataManager
	bc       *backchannel.Client
	scopes   []string

	validMethods []string
}

// Option configures a Provider.
type Option func(*Provider)

// WithBackchannel substitutes the backchannel client used for the token and
// userinfo endpoints.
func WithBackchannel(bc *backchannel.Client) Option {
	return func(p *Provider) {
		if bc != nil {
			p.bc = bc
		}
	}
}

// WithMetadataManager substitutes the metadata manager, for example to share
// one across schemes of the same authority.
func WithMetadataManager(m *MetadataManager) Option {
	return func(p *Provider) {
		if m != nil {
			p.metadata = m
		}
	}
}

// New creates an OIDC flow for the named provider.
func New(name string, cfg Config, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "provider name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	} else if !containsScope(scopes, "openid") {
		scopes = append([]string{"openid"}, scopes...)
	}
	p := &Provider{
		name:         name,
		cfg:          cfg,
		bc:           backchannel.New(),
		scopes:       scopes,
		validMethods: []string{"RS256", "PS256", "ES256", "ES384", "ES512"},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metadata == nil {
		m, err := NewMetadataManager(cfg.Authority, WithMetadataBackchannel(p.bc))
		if err != nil {
			return nil, err
		}
		p.metadata = m
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// PrepareChallenge adds the replay-protection nonce and, when enabled, the
// PKCE verifier to the properties bag.
func (p *Provider) PrepareChallenge(ctx context.Context, props *ticket.Properties) error {
	props.SetString(nonceKey, uuid.NewString())
	if p.cfg.UsePKCE {
		verifier, err := pkce.NewVerifier()
		if err != nil {
			return err
		}
		props.SetString(codeVerifierKey, verifier)
	}
	return nil
}

// BuildChallengeURL constructs the authorization URL from the discovered
// metadata.
func (p *Provider) BuildChallengeURL(ctx context.Context, redirectURI, state string, props *ticket.Properties) (string, error) {
	md, err := p.metadata.Get(ctx)
	if err != nil {
		return "", err
	}
	authURL, err := url.Parse(md.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint in metadata: %w", err)
	}
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	params.Set("scope", strings.Join(p.scopes, " "))
	params.Set("nonce", props.GetString(nonceKey))
	if p.cfg.UsePKCE {
		if verifier := props.GetString(codeVerifierKey); verifier != "" {
			params.Set("code_challenge", pkce.Challenge(verifier))
			params.Set("code_challenge_method", pkce.MethodS256)
		}
	}
	authURL.RawQuery = params.Encode()
	return authURL.String(), nil
}

// UnpackCallback extracts state, code and any provider error from the
// callback query string.
func (p *Provider) UnpackCallback(r *http.Request) remote.Callback {
	q := r.URL.Query()
	cb := remote.Callback{
		State: q.Get("state"),
		Proof: q.Get("code"),
	}
	if errParam := q.Get("error"); errParam != "" {
		cb.ProviderError = errParam
		if desc := q.Get("error_description"); desc != "" {
			cb.ProviderError += ": " + desc
		}
	}
	return cb
}

// Exchange trades the authorization code for tokens at the discovered token
// endpoint.
func (p *Provider) Exchange(ctx context.Context, cb remote.Callback, redirectURI string, props *ticket.Properties) (*remote.TokenSet, error) {
	md, err := p.metadata.Get(ctx)
	if err != nil {
		return nil, err
	}
	verifier := props.GetString(codeVerifierKey)
	props.SetString(codeVerifierKey, "")

	tokens, err := oauth2flow.ExchangeAuthorizationCode(ctx, p.bc, md.TokenEndpoint,
		p.cfg.ClientID, p.cfg.ClientSecret, cb.Proof, redirectURI, verifier)
	if err != nil {
		return nil, err
	}
	if tokens.Failed() {
		return nil, fmt.Errorf("%s", tokens.Error)
	}
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("token response contained no id_token")
	}
	return &remote.TokenSet{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		IDToken:      tokens.IDToken,
		ExpiresIn:    tokens.ExpiresIn,
	}, nil
}

// BuildPrincipal validates the id_token against the provider's signing keys
// and issuer, checks the challenge nonce, and maps the token claims (plus
// optional userinfo claims) onto an identity.
func (p *Provider) BuildPrincipal(ctx context.Context, tokens *remote.TokenSet, props *ticket.Properties) (*identity.Principal, error) {
	md, err := p.metadata.Get(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := p.validateIDToken(ctx, md, tokens.IDToken)
	if err != nil {
		return nil, err
	}

	nonce := props.GetString(nonceKey)
	props.SetString(nonceKey, "")
	if nonce == "" || claims["nonce"] != nonce {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "id_token nonce does not match the challenge")
	}

	id := identity.NewIdentity(p.name)
	mapIDTokenClaims(claims, id, md.Issuer)

	if p.cfg.FetchUserInfo && md.UserInfoEndpoint != "" {
		resp, err := p.bc.Get(ctx, md.UserInfoEndpoint, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		if !resp.Success() {
			return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
		}
		userInfo, err := decodeJSONObject(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("userinfo parsing failed: %w", err)
		}
		mergeUserInfoClaims(userInfo, id, md.Issuer)
	}

	return identity.NewPrincipal(id), nil
}

// validateIDToken checks the id_token signature against the provider's JWKS
// (refreshing once when the key id is unknown) plus issuer, audience and
// expiry.
func (p *Provider) validateIDToken(ctx context.Context, md *Metadata, idToken string) (jwt.MapClaims, error) {
	keyfunc := func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("id_token has no key id")
		}
		key, err := p.metadata.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("signing key materialization failed: %w", err)
		}
		return raw, nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(p.validMethods),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithExpirationRequired(),
	}
	if !p.cfg.SkipIssuerValidation {
		parserOpts = append(parserOpts, jwt.WithIssuer(md.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(idToken, claims, keyfunc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTokenInvalid, "id_token validation failed")
	}
	return claims, nil
}

func mapIDTokenClaims(claims jwt.MapClaims, id *identity.Identity, issuer string) {
	addStringClaim(id, identity.ClaimTypeNameIdentifier, claims, "sub", issuer)
	addStringClaim(id, identity.ClaimTypeName, claims, "name", issuer)
	addStringClaim(id, identity.ClaimTypeEmail, claims, "email", issuer)
	addStringClaim(id, identity.ClaimTypeGivenName, claims, "given_name", issuer)
	addStringClaim(id, identity.ClaimTypeSurname, claims, "family_name", issuer)
	addStringClaim(id, identity.ClaimTypePicture, claims, "picture", issuer)
	if _, ok := id.FindFirst(identity.ClaimTypeName); !ok {
		addStringClaim(id, identity.ClaimTypeName, claims, "preferred_username", issuer)
	}
}

// mergeUserInfoClaims adds userinfo fields not already claimed from the
// id_token.
func mergeUserInfoClaims(userInfo map[string]interface{}, id *identity.Identity, issuer string) {
	for claimType, field := range map[string]string{
		identity.ClaimTypeName:      "name",
		identity.ClaimTypeEmail:     "email",
		identity.ClaimTypeGivenName: "given_name",
		identity.ClaimTypeSurname:   "family_name",
		identity.ClaimTypePicture:   "picture",
	} {
		if _, ok := id.FindFirst(claimType); ok {
			continue
		}
		if v, ok := userInfo[field].(string); ok && v != "" {
			id.AddClaim(identity.NewClaimWithIssuer(claimType, v, issuer))
		}
	}
}

func addStringClaim(id *identity.Identity, claimType string, claims jwt.MapClaims, field, issuer string) {
	if v, ok := claims[field].(string); ok && v != "" {
		id.AddClaim(identity.NewClaimWithIssuer(claimType, v, issuer))
	}
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func decodeJSONObject(body []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
