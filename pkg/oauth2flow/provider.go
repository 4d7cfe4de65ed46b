package oauth2flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/authkit/authkit/pkg/backchannel"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/pkce"
	"github.com/authkit/authkit/pkg/remote"
	"github.com/authkit/authkit/pkg/ticket"
)

// codeVerifierKey carries the PKCE verifier inside the protected state for
// exactly one challenge/callback round trip.
const codeVerifierKey = ".code_verifier"

// ClaimMapper translates a provider's user-info document into claims on the
// identity. Provider presets install their own; the default understands the
// common OIDC-style field names.
type ClaimMapper func(userInfo map[string]interface{}, id *identity.Identity)

// Provider implements the OAuth2 authorization-code flow for one configured
// identity provider. It holds immutable configuration and a pooled
// backchannel client and is safe for concurrent use.
type Provider struct {
	name      string
	cfg       Config
	bc        *backchannel.Client
	mapClaims ClaimMapper
}

// Option configures a Provider.
type Option func(*Provider)

// WithBackchannel substitutes the backchannel client, for example to change
// its timeout or response cap.
func WithBackchannel(bc *backchannel.Client) Option {
	return func(p *Provider) {
		if bc != nil {
			p.bc = bc
		}
	}
}

// WithClaimMapper installs the provider-specific user-info claim mapping.
func WithClaimMapper(m ClaimMapper) Option {
	return func(p *Provider) {
		if m != nil {
			p.mapClaims = m
		}
	}
}

// New creates an OAuth2 flow for the named provider. The name doubles as the
// claim issuer and the identity's authentication type.
func New(name string, cfg Config, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "provider name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		name:      name,
		cfg:       cfg,
		bc:        backchannel.New(),
		mapClaims: MapStandardClaims,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// PrepareChallenge adds the PKCE verifier to the properties bag when PKCE is
// enabled, so the callback leg can present it during the exchange.
func (p *Provider) PrepareChallenge(ctx context.Context, props *ticket.Properties) error {
	if !p.cfg.UsePKCE {
		return nil
	}
	verifier, err := pkce.NewVerifier()
	if err != nil {
		return err
	}
	props.SetString(codeVerifierKey, verifier)
	return nil
}

// BuildChallengeURL constructs the provider authorization URL.
func (p *Provider) BuildChallengeURL(ctx context.Context, redirectURI, state string, props *ticket.Properties) (string, error) {
	authURL, err := url.Parse(p.cfg.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	if scope := p.cfg.scope(); scope != "" {
		params.Set("scope", scope)
	}
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

// Exchange trades the authorization code for tokens. The PKCE verifier, when
// present, is consumed from the properties bag so it cannot reach the final
// ticket.
func (p *Provider) Exchange(ctx context.Context, cb remote.Callback, redirectURI string, props *ticket.Properties) (*remote.TokenSet, error) {
	verifier := props.GetString(codeVerifierKey)
	props.SetString(codeVerifierKey, "")

	tokens, err := p.ExchangeCode(ctx, cb.Proof, redirectURI, verifier)
	if err != nil {
		return nil, err
	}
	if tokens.Failed() {
		return nil, fmt.Errorf("%s", tokens.Error)
	}
	return &remote.TokenSet{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		IDToken:      tokens.IDToken,
		ExpiresIn:    tokens.ExpiresIn,
	}, nil
}

// BuildPrincipal constructs the principal, consulting the provider's
// user-info endpoint when one is configured.
func (p *Provider) BuildPrincipal(ctx context.Context, tokens *remote.TokenSet, props *ticket.Properties) (*identity.Principal, error) {
	id := identity.NewIdentity(p.name)
	if p.cfg.UserInfoEndpoint != "" {
		userInfo, err := p.UserInfo(ctx, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		p.mapClaims(userInfo, id)
	}
	return identity.NewPrincipal(id), nil
}

// UserInfo retrieves and decodes the user-info document for the given access
// token. A non-2xx status is an error: unlike the token endpoint, a failing
// user-info endpoint after a successful exchange is not a routine condition.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	resp, err := p.bc.Get(ctx, p.cfg.UserInfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("user info endpoint returned status %d", resp.StatusCode)
	}
	var userInfo map[string]interface{}
	if err := json.Unmarshal(resp.Body, &userInfo); err != nil {
		return nil, fmt.Errorf("user info parsing failed: %w", err)
	}
	return userInfo, nil
}

// MapStandardClaims is the default claim mapping, understanding the OIDC
// standard user-info fields.
func MapStandardClaims(userInfo map[string]interface{}, id *identity.Identity) {
	issuer := id.AuthenticationType
	subject := stringField(userInfo, "sub")
	if subject == "" {
		subject = stringField(userInfo, "id")
	}
	addClaim(id, identity.ClaimTypeNameIdentifier, subject, issuer)
	addClaim(id, identity.ClaimTypeName, stringField(userInfo, "name"), issuer)
	addClaim(id, identity.ClaimTypeEmail, stringField(userInfo, "email"), issuer)
	addClaim(id, identity.ClaimTypeGivenName, stringField(userInfo, "given_name"), issuer)
	addClaim(id, identity.ClaimTypeSurname, stringField(userInfo, "family_name"), issuer)
	addClaim(id, identity.ClaimTypePicture, stringField(userInfo, "picture"), issuer)
}

func addClaim(id *identity.Identity, claimType, value, issuer string) {
	if value == "" {
		return
	}
	id.AddClaim(identity.NewClaimWithIssuer(claimType, value, issuer))
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
