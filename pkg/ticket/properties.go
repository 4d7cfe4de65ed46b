package ticket

import (
	"strings"
	"time"

	"github.com/jinzhu/copier"
)

// Well-known property keys. The leading dot keeps them out of the way of
// caller-defined keys.
const (
	redirectURIKey  = ".redirect"
	issuedAtKey     = ".issued"
	expiresAtKey    = ".expires"
	allowRefreshKey = ".refresh"
	tokenNamesKey   = ".TokenNames"
	tokenKeyPrefix  = ".Token."
)

// timeFormat is the wire format for timestamps stored in a properties bag.
const timeFormat = time.RFC3339

// Properties is the metadata bag attached to a ticket or to a challenge,
// sign-in or sign-out request. It must survive a protect/unprotect round trip
// byte for byte.
type Properties struct {
	Items map[string]string
}

// NewProperties creates an empty properties bag.
func NewProperties() *Properties {
	return &Properties{Items: make(map[string]string)}
}

// GetString returns the value stored under key, or "".
func (p *Properties) GetString(key string) string {
	if p == nil || p.Items == nil {
		return ""
	}
	return p.Items[key]
}

// SetString stores value under key. An empty value removes the key.
func (p *Properties) SetString(key, value string) {
	if p.Items == nil {
		p.Items = make(map[string]string)
	}
	if value == "" {
		delete(p.Items, key)
		return
	}
	p.Items[key] = value
}

// RedirectURI returns the post-authentication return URL, if any.
func (p *Properties) RedirectURI() string {
	return p.GetString(redirectURIKey)
}

// SetRedirectURI records the post-authentication return URL.
func (p *Properties) SetRedirectURI(uri string) {
	p.SetString(redirectURIKey, uri)
}

// IssuedAt returns the issue time of the ticket, or the zero time.
func (p *Properties) IssuedAt() time.Time {
	return p.getTime(issuedAtKey)
}

// SetIssuedAt records the issue time of the ticket.
func (p *Properties) SetIssuedAt(t time.Time) {
	p.setTime(issuedAtKey, t)
}

// ExpiresAt returns the expiry time of the ticket, or the zero time.
func (p *Properties) ExpiresAt() time.Time {
	return p.getTime(expiresAtKey)
}

// SetExpiresAt records the expiry time of the ticket.
func (p *Properties) SetExpiresAt(t time.Time) {
	p.setTime(expiresAtKey, t)
}

// AllowRefresh reports whether the ticket may be re-issued with a refreshed
// expiry. Defaults to true when unset.
func (p *Properties) AllowRefresh() bool {
	return p.GetString(allowRefreshKey) != "false"
}

// SetAllowRefresh controls whether the ticket may be re-issued with a
// refreshed expiry.
func (p *Properties) SetAllowRefresh(allow bool) {
	if allow {
		p.SetString(allowRefreshKey, "")
	} else {
		p.SetString(allowRefreshKey, "false")
	}
}

func (p *Properties) getTime(key string) time.Time {
	v := p.GetString(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p *Properties) setTime(key string, t time.Time) {
	if t.IsZero() {
		p.SetString(key, "")
		return
	}
	p.SetString(key, t.UTC().Format(timeFormat))
}

// Token is a named token captured from an identity provider, for example
// "access_token" or "refresh_token".
type Token struct {
	Name  string
	Value string
}

// StoreTokens replaces the bag's token store with the given tokens.
func (p *Properties) StoreTokens(tokens []Token) {
	for _, name := range p.tokenNames() {
		p.SetString(tokenKeyPrefix+name, "")
	}
	names := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Name == "" || tok.Value == "" {
			continue
		}
		p.SetString(tokenKeyPrefix+tok.Name, tok.Value)
		names = append(names, tok.Name)
	}
	p.SetString(tokenNamesKey, strings.Join(names, ";"))
}

// Token returns the stored token with the given name, or "".
func (p *Properties) Token(name string) string {
	return p.GetString(tokenKeyPrefix + name)
}

// Tokens returns all stored tokens in insertion order.
func (p *Properties) Tokens() []Token {
	names := p.tokenNames()
	tokens := make([]Token, 0, len(names))
	for _, name := range names {
		if v := p.Token(name); v != "" {
			tokens = append(tokens, Token{Name: name, Value: v})
		}
	}
	return tokens
}

func (p *Properties) tokenNames() []string {
	joined := p.GetString(tokenNamesKey)
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ";")
}

// Clone returns a deep copy of the properties bag.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return nil
	}
	clone := NewProperties()
	if err := copier.CopyWithOption(&clone.Items, &p.Items, copier.Option{DeepCopy: true}); err != nil {
		// Items is a flat string map; copier cannot fail on it short of a
		// programming error. Fall back to a manual copy.
		for k, v := range p.Items {
			clone.Items[k] = v
		}
	}
	return clone
}

// Equal reports whether two property bags carry the same entries.
func (p *Properties) Equal(other *Properties) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.Items) != len(other.Items) {
		return false
	}
	for k, v := range p.Items {
		if ov, ok := other.Items[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
