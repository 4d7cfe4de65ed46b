// Package oauth2flow implements the OAuth2 authorization-code flow as a
// remote.Flow: authorization URL construction, backchannel code-for-token
// exchange, optional user-info retrieval and PKCE.
package oauth2flow

import (
	"net/url"
	"strings"

	"github.com/authkit/authkit/pkg/errors"
)

// Config is the immutable provider configuration captured at registration
// time. Safe for concurrent reads.
type Config struct {
	ClientID     string
	ClientSecret string

	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfoEndpoint is optional; when empty no user-info call is made and
	// claims come only from the token response.
	UserInfoEndpoint string

	Scopes []string

	// UsePKCE adds an S256 code challenge to the flow.
	UsePKCE bool
}

// Validate reports configuration problems. These are programmer errors and
// surface synchronously at registration, never at request time.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "client ID is required")
	}
	if c.ClientSecret == "" && !c.UsePKCE {
		return errors.New(errors.ErrCodeConfigInvalid, "client secret is required unless PKCE is enabled")
	}
	if c.AuthorizationEndpoint == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "authorization endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "token endpoint is required")
	}
	for _, endpoint := range []string{c.AuthorizationEndpoint, c.TokenEndpoint, c.UserInfoEndpoint} {
		if endpoint == "" {
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil || !u.IsAbs() {
			return errors.Newf(errors.ErrCodeConfigInvalid, "endpoint is not an absolute URL: %s", endpoint)
		}
	}
	return nil
}

// scope renders the scope list as the space-separated wire value.
func (c Config) scope() string {
	return strings.Join(c.Scopes, " ")
}
