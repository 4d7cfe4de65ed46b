// Package remote implements the browser-redirect authentication handshake
// shared by every remote identity protocol: challenge, redirect, provider
// callback, token exchange, principal construction, and the correlation and
// protected-state validation that makes the handshake resistant to CSRF,
// tampering and replay.
//
// The protocol-specific pieces live behind the Flow interface; OAuth2 is the
// canonical implementation, OpenID Connect and WS-Federation are variants of
// the same shape.
package remote

import (
	"context"
	"net/http"

	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/secure"
	"github.com/authkit/authkit/pkg/ticket"
)

// Callback is a protocol-neutral view of the provider's callback request.
type Callback struct {
	// State is the opaque protected state echoed by the provider (the OAuth2
	// "state" query parameter, the WS-Federation "wctx" form field).
	State string

	// Proof is the provider's proof artifact: an OAuth2 authorization code,
	// an OAuth1 verifier, a WS-Federation wresult envelope.
	Proof string

	// ProviderError carries the provider's error parameter, already combined
	// with any description, or "" when the provider reported success.
	ProviderError string
}

// TokenSet is the ephemeral result of a successful exchange, consumed
// immediately to build claims and stored tokens on the ticket.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string

	// ExpiresIn is the access token lifetime in seconds, 0 when the provider
	// did not report one.
	ExpiresIn int64
}

// Flow is the capability interface a protocol implementation provides to the
// engine. Implementations hold immutable provider configuration and a pooled
// backchannel client; they are safe for concurrent use.
type Flow interface {
	// PrepareChallenge lets the flow add protocol material to the properties
	// bag before it is protected into state: a PKCE verifier, an OIDC nonce.
	PrepareChallenge(ctx context.Context, props *ticket.Properties) error

	// BuildChallengeURL constructs the provider authorization URL the user
	// agent is redirected to.
	BuildChallengeURL(ctx context.Context, redirectURI, state string, props *ticket.Properties) (string, error)

	// UnpackCallback extracts the protocol fields from the callback request.
	UnpackCallback(r *http.Request) Callback

	// Exchange trades the proof artifact for tokens over the backchannel.
	// Routine provider failures (expired code, bad secret) surface as errors
	// carrying the provider's diagnostic, not as panics.
	Exchange(ctx context.Context, cb Callback, redirectURI string, props *ticket.Properties) (*TokenSet, error)

	// BuildPrincipal constructs the authenticated principal from the
	// exchanged tokens, optionally consulting the provider's user-info
	// endpoint.
	BuildPrincipal(ctx context.Context, tokens *TokenSet, props *ticket.Properties) (*identity.Principal, error)
}

// StateFormatVersion tags the protected-state wire format. Payloads protected
// under a different version are not interoperable and fail closed.
const StateFormatVersion = "v1"

// NewStateFormat builds the secure format used to protect a properties bag
// into the state parameter. Purposes are namespaced by handler type and
// scheme so state minted for one scheme cannot be replayed against another.
func NewStateFormat(masterKey []byte, handlerType, scheme string) (*secure.Format[*ticket.Properties], error) {
	protector, err := secure.NewAEADProtector(masterKey, handlerType, scheme, StateFormatVersion)
	if err != nil {
		return nil, err
	}
	return secure.NewFormat[*ticket.Properties](ticket.PropertiesSerializer{}, protector), nil
}
