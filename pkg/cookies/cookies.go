// Package cookies is the cookie transport used by the correlation manager and
// the session handler. It only appends and deletes cookies; chunking and
// other transport refinements belong to the hosting framework.
package cookies

import (
	"net/http"
	"time"
)

// SecurePolicy controls when the Secure attribute is set.
type SecurePolicy int

const (
	// SecureSameAsRequest marks the cookie Secure when the request arrived
	// over TLS.
	SecureSameAsRequest SecurePolicy = iota
	// SecureAlways always marks the cookie Secure.
	SecureAlways
	// SecureNever never marks the cookie Secure.
	SecureNever
)

// Options describes how a cookie is written.
type Options struct {
	Path     string
	Domain   string
	HTTPOnly bool
	Secure   SecurePolicy
	SameSite http.SameSite
	Expires  time.Time
	MaxAge   int
}

// Manager appends and deletes cookies on a response.
type Manager interface {
	// Append writes a cookie with the given value and options.
	Append(w http.ResponseWriter, r *http.Request, name, value string, opts Options)

	// Delete expires a cookie previously written with the same name and path.
	Delete(w http.ResponseWriter, r *http.Request, name string, opts Options)
}

// BaseManager is the default Manager built on net/http cookies.
type BaseManager struct{}

// NewManager creates the default cookie manager.
func NewManager() Manager {
	return &BaseManager{}
}

// Append writes a cookie with the given value and options.
func (BaseManager) Append(w http.ResponseWriter, r *http.Request, name, value string, opts Options) {
	http.SetCookie(w, build(r, name, value, opts))
}

// Delete expires a cookie previously written with the same name and path.
func (BaseManager) Delete(w http.ResponseWriter, r *http.Request, name string, opts Options) {
	c := build(r, name, "", opts)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func build(r *http.Request, name, value string, opts Options) *http.Cookie {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	secure := false
	switch opts.Secure {
	case SecureAlways:
		secure = true
	case SecureSameAsRequest:
		secure = r.TLS != nil
	}
	sameSite := opts.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	// Browsers reject SameSite=None without Secure; fall back to Lax on
	// insecure transport.
	if sameSite == http.SameSiteNoneMode && !secure {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   opts.Domain,
		HttpOnly: opts.HTTPOnly,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  opts.Expires,
		MaxAge:   opts.MaxAge,
	}
}
