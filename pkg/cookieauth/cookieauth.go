// Package cookieauth implements cookie session authentication: a protected
// ticket carried in a cookie, re-validated on every request. It is the usual
// sign-in target of the remote schemes, which establish identity once and
// hand the ticket here for persistence.
package cookieauth

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/authkit/authkit/pkg/authscheme"
	"github.com/authkit/authkit/pkg/cookies"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/secure"
	"github.com/authkit/authkit/pkg/ticket"
)

const sessionCookiePrefix = "__AuthKit.Session."

// DefaultLifetime is the session window when none is configured.
const DefaultLifetime = 14 * 24 * time.Hour

// TicketFormatVersion tags the protected ticket wire format. Tickets
// protected under a different version are not interoperable and fail closed.
const TicketFormatVersion = "v1"

// NewTicketFormat builds the secure format protecting session tickets for one
// scheme.
func NewTicketFormat(masterKey []byte, scheme string) (*secure.Format[*ticket.Ticket], error) {
	protector, err := secure.NewAEADProtector(masterKey, "CookieAuthenticationHandler", scheme, TicketFormatVersion)
	if err != nil {
		return nil, err
	}
	return secure.NewFormat[*ticket.Ticket](ticket.TicketSerializer{}, protector), nil
}

// Events are the extension points of the session scheme.
type Events struct {
	// ValidatePrincipal runs on every authenticated request. It may replace
	// the ticket (for example after a claims refresh) by returning a non-nil
	// ticket, or reject the session by returning an error, which deletes the
	// cookie. Returning (nil, nil) keeps the ticket as is.
	ValidatePrincipal func(r *http.Request, t *ticket.Ticket) (*ticket.Ticket, error)
}

// Config is the session scheme configuration.
type Config struct {
	// CookieName overrides the session cookie name. Defaults to a name
	// derived from the scheme.
	CookieName string

	// LoginPath is where an anonymous challenge redirects to. When empty, a
	// challenge answers 401 instead.
	LoginPath string

	// ReturnURLParam names the query parameter carrying the original URL on
	// the login redirect. Defaults to "returnUrl".
	ReturnURLParam string

	// Lifetime is the session window. Defaults to DefaultLifetime.
	Lifetime time.Duration

	// SlidingExpiration re-issues the ticket when more than half the window
	// has elapsed. Defaults to true; tickets with refresh disallowed are
	// never re-issued.
	SlidingExpiration *bool

	// Cookie controls the written cookie's attributes. Path defaults to "/",
	// HTTPOnly is forced on.
	Cookie cookies.Options
}

// Handler is the cookie session scheme. Constructed once at registration with
// immutable configuration; safe for concurrent use.
type Handler struct {
	scheme       string
	cfg          Config
	ticketFormat *secure.Format[*ticket.Ticket]
	cookieMgr    cookies.Manager
	events       Events
	sliding      bool
	now          func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithEvents installs the scheme's extension points.
func WithEvents(e Events) Option {
	return func(h *Handler) { h.events = e }
}

// WithCookieManager overrides the cookie transport.
func WithCookieManager(m cookies.Manager) Option {
	return func(h *Handler) {
		if m != nil {
			h.cookieMgr = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates the cookie session scheme.
func New(scheme string, cfg Config, ticketFormat *secure.Format[*ticket.Ticket], opts ...Option) (*Handler, error) {
	if scheme == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "scheme name is required")
	}
	if ticketFormat == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a ticket format is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = sessionCookiePrefix + scheme
	}
	if cfg.ReturnURLParam == "" {
		cfg.ReturnURLParam = "returnUrl"
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	h := &Handler{
		scheme:       scheme,
		cfg:          cfg,
		ticketFormat: ticketFormat,
		cookieMgr:    cookies.NewManager(),
		sliding:      cfg.SlidingExpiration == nil || *cfg.SlidingExpiration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Scheme returns the scheme name this handler serves.
func (h *Handler) Scheme() string { return h.scheme }

// Authenticate reconstructs the session from the request cookie. An absent
// cookie is no result; an unreadable or expired ticket is a failure and the
// cookie is cleared.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) *authscheme.Result {
	cookie, err := r.Cookie(h.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return authscheme.None()
	}

	t, ok := h.ticketFormat.Unprotect(cookie.Value)
	if !ok {
		slog.Warn("session ticket failed to unprotect", "scheme", h.scheme)
		h.deleteCookie(w, r)
		return authscheme.Fail(errors.New(errors.ErrCodeTicketInvalid, "the session ticket was invalid"))
	}

	now := h.now()
	expires := t.Properties.ExpiresAt()
	if !expires.IsZero() && now.After(expires) {
		h.deleteCookie(w, r)
		return authscheme.Fail(errors.New(errors.ErrCodeTicketExpired, "the session ticket expired"))
	}

	if h.events.ValidatePrincipal != nil {
		replacement, err := h.events.ValidatePrincipal(r, t)
		if err != nil {
			slog.Info("session rejected by principal validation", "scheme", h.scheme, "err", err)
			h.deleteCookie(w, r)
			return authscheme.Fail(errors.Wrap(err, errors.ErrCodeTicketRejected, "the session was rejected"))
		}
		if replacement != nil {
			t = replacement
			if err := h.writeTicket(w, r, t); err != nil {
				return authscheme.Fail(err)
			}
		}
	}

	if h.shouldRenew(t, now) {
		t.Properties.SetIssuedAt(now)
		t.Properties.SetExpiresAt(now.Add(h.cfg.Lifetime))
		if err := h.writeTicket(w, r, t); err != nil {
			return authscheme.Fail(err)
		}
		slog.Debug("session ticket renewed", "scheme", h.scheme)
	}

	return authscheme.Success(t)
}

// shouldRenew applies sliding expiration: renew once more than half the
// window has elapsed, unless the ticket disallows refresh.
func (h *Handler) shouldRenew(t *ticket.Ticket, now time.Time) bool {
	if !h.sliding || !t.Properties.AllowRefresh() {
		return false
	}
	issued, expires := t.Properties.IssuedAt(), t.Properties.ExpiresAt()
	if issued.IsZero() || expires.IsZero() {
		return false
	}
	return now.Sub(issued) > expires.Sub(issued)/2
}

// SignIn persists the ticket in the session cookie, stamping issue and expiry
// times when the caller has not set them.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) error {
	if t == nil || t.Principal == nil || !t.Principal.IsAuthenticated() {
		return errors.New(errors.ErrCodeUnauthorized, "only an authenticated principal can be signed in")
	}
	now := h.now()
	if t.Properties.IssuedAt().IsZero() {
		t.Properties.SetIssuedAt(now)
	}
	if t.Properties.ExpiresAt().IsZero() {
		t.Properties.SetExpiresAt(now.Add(h.cfg.Lifetime))
	}
	if err := h.writeTicket(w, r, t); err != nil {
		return err
	}
	slog.Info("session signed in", "scheme", h.scheme, "name", t.Principal.Name())
	return nil
}

// SignOut clears the session cookie.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error {
	h.deleteCookie(w, r)
	slog.Info("session signed out", "scheme", h.scheme)
	return nil
}

// Challenge sends an anonymous request to the login page, carrying the
// original URL, or answers 401 when no login page is configured.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error {
	if h.cfg.LoginPath == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}
	target := props.RedirectURI()
	if target == "" {
		target = r.URL.RequestURI()
	}
	loginURL := h.cfg.LoginPath + "?" + h.cfg.ReturnURLParam + "=" + url.QueryEscape(target)
	http.Redirect(w, r, loginURL, http.StatusFound)
	return nil
}

func (h *Handler) writeTicket(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) error {
	protected, err := h.ticketFormat.Protect(t)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "session ticket protection failed")
	}
	opts := h.cookieOptions()
	if expires := t.Properties.ExpiresAt(); !expires.IsZero() {
		opts.Expires = expires
	}
	h.cookieMgr.Append(w, r, h.cfg.CookieName, protected, opts)
	return nil
}

func (h *Handler) deleteCookie(w http.ResponseWriter, r *http.Request) {
	h.cookieMgr.Delete(w, r, h.cfg.CookieName, h.cookieOptions())
}

func (h *Handler) cookieOptions() cookies.Options {
	opts := h.cfg.Cookie
	opts.HTTPOnly = true
	return opts
}

var _ interface {
	authscheme.Handler
	authscheme.ChallengeHandler
	authscheme.SignInHandler
	authscheme.SignOutHandler
} = (*Handler)(nil)
