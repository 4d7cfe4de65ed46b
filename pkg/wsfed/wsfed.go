// Package wsfed implements WS-Federation passive sign-in as a variant of the
// remote handshake: the challenge redirects to the security token service
// with the protected state in wctx, and the callback posts back a wresult
// security token envelope. Token parsing and signature validation are
// delegated to an injected TokenValidator; this package only drives the
// protocol shape.
package wsfed

import (
	"context"
	"net/http"
	"net/url"

	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/remote"
	"github.com/authkit/authkit/pkg/ticket"
)

// Protocol constants of the passive requestor profile.
const (
	ActionSignIn  = "wsignin1.0"
	ActionSignOut = "wsignout1.0"
)

// TokenValidator parses and validates a wresult envelope and produces the
// authenticated principal. Implementations decide which token formats
// (SAML 1.1, SAML 2.0) and signatures they accept.
type TokenValidator interface {
	Validate(ctx context.Context, wresult string) (*identity.Principal, error)
}

// Config is the WS-Federation flow configuration.
type Config struct {
	// IssuerAddress is the security token service's passive sign-in URL.
	IssuerAddress string

	// Realm identifies this application to the issuer (wtrealm).
	Realm string
}

// Validate reports configuration problems synchronously at registration.
func (c Config) Validate() error {
	if c.IssuerAddress == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "issuer address is required")
	}
	u, err := url.Parse(c.IssuerAddress)
	if err != nil || !u.IsAbs() {
		return errors.Newf(errors.ErrCodeConfigInvalid, "issuer address is not an absolute URL: %s", c.IssuerAddress)
	}
	if c.Realm == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "realm is required")
	}
	return nil
}

// Flow implements remote.Flow for WS-Federation. Safe for concurrent use.
type Flow struct {
	cfg       Config
	validator TokenValidator
}

// New creates a WS-Federation flow.
func New(cfg Config, validator TokenValidator) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if validator == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a token validator is required")
	}
	return &Flow{cfg: cfg, validator: validator}, nil
}

// PrepareChallenge adds nothing; WS-Federation needs no per-flow protocol
// material beyond the protected state itself.
func (f *Flow) PrepareChallenge(ctx context.Context, props *ticket.Properties) error {
	return nil
}

// BuildChallengeURL constructs the passive sign-in URL. The protected state
// travels in wctx, the callback address in wreply.
func (f *Flow) BuildChallengeURL(ctx context.Context, redirectURI, state string, props *ticket.Properties) (string, error) {
	u, err := url.Parse(f.cfg.IssuerAddress)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid issuer address")
	}
	params := u.Query()
	params.Set("wa", ActionSignIn)
	params.Set("wtrealm", f.cfg.Realm)
	params.Set("wctx", state)
	params.Set("wreply", redirectURI)
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// UnpackCallback extracts wctx and wresult from the form post-back.
func (f *Flow) UnpackCallback(r *http.Request) remote.Callback {
	if err := r.ParseForm(); err != nil {
		return remote.Callback{}
	}
	return remote.Callback{
		State: r.Form.Get("wctx"),
		Proof: r.Form.Get("wresult"),
	}
}

// Exchange passes the wresult envelope through: WS-Federation has no
// backchannel exchange leg, the post-back already carries the token.
func (f *Flow) Exchange(ctx context.Context, cb remote.Callback, redirectURI string, props *ticket.Properties) (*remote.TokenSet, error) {
	return &remote.TokenSet{AccessToken: cb.Proof}, nil
}

// BuildPrincipal validates the wresult envelope through the injected
// validator.
func (f *Flow) BuildPrincipal(ctx context.Context, tokens *remote.TokenSet, props *ticket.Properties) (*identity.Principal, error) {
	return f.validator.Validate(ctx, tokens.AccessToken)
}

var _ remote.Flow = (*Flow)(nil)
