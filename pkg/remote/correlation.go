package remote

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/authkit/authkit/pkg/cookies"
	"github.com/authkit/authkit/pkg/ticket"
)

const (
	correlationKeyPrefix    = ".correlation."
	correlationCookiePrefix = "__AuthKit.Correlation."
)

// DefaultCorrelationLifetime bounds how long a challenge may wait for its
// callback.
const DefaultCorrelationLifetime = 15 * time.Minute

// CorrelationManager generates and validates the per-flow anti-CSRF
// correlation value binding a challenge to its callback. The value lives in
// two places: a short-lived HTTP-only cookie and the protected state embedded
// in the provider redirect. Both are single use.
type CorrelationManager struct {
	scheme   string
	cookies  cookies.Manager
	lifetime time.Duration
	now      func() time.Time
}

// NewCorrelationManager creates a correlation manager for the given scheme.
func NewCorrelationManager(scheme string, mgr cookies.Manager, lifetime time.Duration) *CorrelationManager {
	if mgr == nil {
		mgr = cookies.NewManager()
	}
	if lifetime <= 0 {
		lifetime = DefaultCorrelationLifetime
	}
	return &CorrelationManager{
		scheme:   scheme,
		cookies:  mgr,
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (c *CorrelationManager) cookieName() string {
	return correlationCookiePrefix + c.scheme
}

func (c *CorrelationManager) propertyKey() string {
	return correlationKeyPrefix + c.scheme
}

func (c *CorrelationManager) cookieOptions() cookies.Options {
	// SameSite=None so the cookie accompanies cross-site provider callbacks
	// (WS-Federation posts the response). The cookie manager downgrades to
	// Lax on insecure transport, where browsers reject None.
	return cookies.Options{
		HTTPOnly: true,
		Secure:   cookies.SecureSameAsRequest,
		SameSite: http.SameSiteNoneMode,
		Expires:  c.now().Add(c.lifetime),
	}
}

// Generate draws a fresh correlation value, records it in props (to travel
// inside the protected state) and in a short-lived cookie.
func (c *CorrelationManager) Generate(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("correlation id generation failed: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	props.SetString(c.propertyKey(), value)
	c.cookies.Append(w, r, c.cookieName(), value, c.cookieOptions())
	return nil
}

// Validate checks the callback's correlation cookie against the value carried
// in the unprotected state. The cookie is deleted and the property removed
// regardless of outcome, so a correlation value can never be replayed. A
// missing or mismatched value is an expected adversarial or expired-flow case:
// it is logged and reported as false, never as an error.
func (c *CorrelationManager) Validate(w http.ResponseWriter, r *http.Request, props *ticket.Properties) bool {
	cookie, err := r.Cookie(c.cookieName())
	if err != nil || cookie.Value == "" {
		slog.Warn("correlation cookie not found", "scheme", c.scheme)
		return false
	}
	c.cookies.Delete(w, r, c.cookieName(), c.cookieOptions())

	expected := props.GetString(c.propertyKey())
	// The correlation value must never leak into the final ticket.
	props.SetString(c.propertyKey(), "")
	if expected == "" {
		slog.Warn("correlation property not found in state", "scheme", c.scheme)
		return false
	}
	if cookie.Value != expected {
		slog.Warn("correlation cookie does not match state", "scheme", c.scheme)
		return false
	}
	return true
}
