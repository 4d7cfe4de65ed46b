package remote

import (
	stderrors "errors"
	"fmt"
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

// TicketHook runs after a ticket has been assembled and before it is
// delivered. It may replace the ticket (for example to swap claims) or fail
// the authentication by returning an error.
type TicketHook func(r *http.Request, t *ticket.Ticket, tokens *TokenSet) (*ticket.Ticket, error)

// FailureHandler is invoked for a failed callback. It reports whether it
// wrote the response; otherwise the engine writes a generic error.
type FailureHandler func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool

// Engine drives the remote authentication state machine for one scheme. It is
// constructed once per scheme registration with immutable configuration and a
// Flow implementation, and is safe for concurrent use; per-request state is
// reconstructed from the incoming request and its cookies every time.
type Engine struct {
	scheme       string
	callbackPath string
	flow         Flow
	stateFormat  *secure.Format[*ticket.Properties]
	correlation  *CorrelationManager
	cookieMgr    cookies.Manager

	registry            *authscheme.Registry
	signInScheme        string
	correlationLifetime time.Duration

	saveTokens     bool
	baseURL        *url.URL
	ticketHook     TicketHook
	failureHandler FailureHandler
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSignIn hands successful tickets to the named sign-in scheme, typically
// the cookie session scheme.
func WithSignIn(registry *authscheme.Registry, scheme string) Option {
	return func(e *Engine) {
		e.registry = registry
		e.signInScheme = scheme
	}
}

// WithSaveTokens stores the exchanged tokens in the ticket's token store.
func WithSaveTokens() Option {
	return func(e *Engine) { e.saveTokens = true }
}

// WithTicketHook installs a hook run on every assembled ticket.
func WithTicketHook(h TicketHook) Option {
	return func(e *Engine) { e.ticketHook = h }
}

// WithFailureHandler installs a custom response for failed callbacks.
func WithFailureHandler(h FailureHandler) Option {
	return func(e *Engine) { e.failureHandler = h }
}

// WithCookieManager overrides the cookie transport.
func WithCookieManager(m cookies.Manager) Option {
	return func(e *Engine) { e.cookieMgr = m }
}

// WithCorrelationLifetime bounds how long a challenge may wait for its
// callback.
func WithCorrelationLifetime(d time.Duration) Option {
	return func(e *Engine) { e.correlationLifetime = d }
}

// WithBaseURL fixes the external base URL used to build the callback redirect
// URI, for deployments behind a proxy. Without it the URI is derived from the
// incoming request.
func WithBaseURL(base string) Option {
	return func(e *Engine) {
		if u, err := url.Parse(base); err == nil {
			e.baseURL = u
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the remote authentication engine for one scheme.
// Configuration problems are reported here, synchronously, never at request
// time.
func NewEngine(scheme, callbackPath string, flow Flow, stateFormat *secure.Format[*ticket.Properties], opts ...Option) (*Engine, error) {
	if scheme == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "scheme name is required")
	}
	if callbackPath == "" || callbackPath[0] != '/' {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "callback path must be absolute, got %q", callbackPath)
	}
	if flow == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a flow implementation is required")
	}
	if stateFormat == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a state format is required")
	}
	e := &Engine{
		scheme:       scheme,
		callbackPath: callbackPath,
		flow:         flow,
		stateFormat:  stateFormat,
		cookieMgr:    cookies.NewManager(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	// Built after all options so the correlation manager sees the final
	// cookie transport regardless of option order.
	e.correlation = NewCorrelationManager(scheme, e.cookieMgr, e.correlationLifetime)
	if e.signInScheme != "" && e.registry == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a registry is required to resolve the sign-in scheme")
	}
	return e, nil
}

// Scheme returns the scheme name this engine serves.
func (e *Engine) Scheme() string { return e.scheme }

// Authenticate reports no result: a remote scheme establishes identity only
// through its callback; per-request identity comes from the session scheme
// the ticket was handed to.
func (e *Engine) Authenticate(w http.ResponseWriter, r *http.Request) *authscheme.Result {
	return authscheme.None()
}

// Challenge starts the handshake: it generates the correlation value,
// protects the properties bag into state, and redirects the user agent to the
// provider's authorization endpoint. It mutates only the response.
func (e *Engine) Challenge(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error {
	if props == nil {
		props = ticket.NewProperties()
	}
	if props.RedirectURI() == "" {
		props.SetRedirectURI(e.currentURL(r))
	}
	if err := e.flow.PrepareChallenge(r.Context(), props); err != nil {
		return fmt.Errorf("challenge preparation failed: %w", err)
	}
	if err := e.correlation.Generate(w, r, props); err != nil {
		return err
	}
	state, err := e.stateFormat.Protect(props)
	if err != nil {
		return fmt.Errorf("state protection failed: %w", err)
	}
	authURL, err := e.flow.BuildChallengeURL(r.Context(), e.redirectURI(r), state, props)
	if err != nil {
		return fmt.Errorf("authorization URL construction failed: %w", err)
	}
	slog.Debug("issuing remote authentication challenge", "scheme", e.scheme)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// ShouldHandle reports whether the request targets this engine's callback
// path.
func (e *Engine) ShouldHandle(r *http.Request) bool {
	return r.URL.Path == e.callbackPath
}

// HandleRequest processes the provider callback when the request targets the
// callback path. It reports whether the response has been written.
func (e *Engine) HandleRequest(w http.ResponseWriter, r *http.Request) bool {
	if !e.ShouldHandle(r) {
		return false
	}
	result := e.processCallback(w, r)
	if result.Succeeded() {
		e.deliver(w, r, result.Ticket)
	} else {
		e.fail(w, r, result)
	}
	return true
}

// processCallback runs the callback sequence and classifies every failure
// into a typed result. The provider response is attacker-influenced input, so
// nothing — including a panic in a flow implementation — escapes this method.
func (e *Engine) processCallback(w http.ResponseWriter, r *http.Request) (result *authscheme.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("remote authentication panicked", "scheme", e.scheme, "panic", rec)
			result = authscheme.Fail(errors.Newf(errors.ErrCodeInternal, "authentication failed unexpectedly"))
		}
	}()

	cb := e.flow.UnpackCallback(r)

	props, ok := e.stateFormat.Unprotect(cb.State)
	if !ok {
		return authscheme.Fail(errors.New(errors.ErrCodeStateInvalid, "the state was missing or invalid"))
	}

	if !e.correlation.Validate(w, r, props) {
		// The properties (now correlation-stripped) still accompany the
		// failure so the caller can inspect the intended redirect target.
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeCorrelationFailed, "correlation failed"), props)
	}

	if cb.ProviderError != "" {
		return authscheme.FailWithProperties(
			errors.Newf(errors.ErrCodeProviderError, "provider returned error: %s", cb.ProviderError), props)
	}

	if cb.Proof == "" {
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeCodeMissing, "the authorization code was missing"), props)
	}

	tokens, err := e.flow.Exchange(r.Context(), cb, e.redirectURI(r), props)
	if err != nil {
		return authscheme.FailWithProperties(
			errors.Wrap(err, errors.ErrCodeExchangeFailed, "token exchange failed"), props)
	}
	if tokens == nil || tokens.AccessToken == "" {
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeAccessTokenMissing, "the access token was missing"), props)
	}

	principal, err := e.flow.BuildPrincipal(r.Context(), tokens, props)
	if err != nil {
		return authscheme.FailWithProperties(
			errors.Wrap(err, errors.ErrCodeUserInfoFailed, "identity construction failed"), props)
	}

	if e.saveTokens {
		props.StoreTokens(e.tokenStore(tokens))
	}

	t := ticket.New(principal, e.scheme, props)
	if e.ticketHook != nil {
		t, err = e.ticketHook(r, t, tokens)
		if err != nil {
			return authscheme.FailWithProperties(
				errors.Wrap(err, errors.ErrCodeTicketRejected, "ticket rejected"), props)
		}
		if t == nil {
			return authscheme.FailWithProperties(
				errors.New(errors.ErrCodeTicketRejected, "ticket rejected"), props)
		}
	}

	slog.Info("remote authentication succeeded", "scheme", e.scheme, "name", t.Principal.Name())
	return authscheme.Success(t)
}

// tokenStore maps a token set to named ticket tokens, computing the absolute
// expiry from the provider's relative one.
func (e *Engine) tokenStore(tokens *TokenSet) []ticket.Token {
	stored := []ticket.Token{
		{Name: "access_token", Value: tokens.AccessToken},
		{Name: "refresh_token", Value: tokens.RefreshToken},
		{Name: "token_type", Value: tokens.TokenType},
		{Name: "id_token", Value: tokens.IDToken},
	}
	if tokens.ExpiresIn > 0 {
		expiresAt := e.now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		stored = append(stored, ticket.Token{Name: "expires_at", Value: expiresAt.Format(time.RFC3339)})
	}
	return stored
}

// deliver hands the ticket to the sign-in scheme and sends the user back to
// the resource they originally requested.
func (e *Engine) deliver(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) {
	target := t.Properties.RedirectURI()
	// Cleared before handoff so a persisted ticket cannot bounce the user in
	// a loop.
	t.Properties.SetRedirectURI("")
	if target == "" {
		target = "/"
	}

	if !t.Principal.IsAuthenticated() {
		slog.Warn("remote authentication produced no principal", "scheme", e.scheme)
		http.Redirect(w, r, appendQuery(target, "error", "access_denied"), http.StatusFound)
		return
	}

	if e.signInScheme != "" {
		scheme, err := e.registry.ResolveSignIn(e.signInScheme)
		if err == nil {
			if signIn, ok := scheme.Handler.(authscheme.SignInHandler); ok {
				if err := signIn.SignIn(w, r, t); err != nil {
					slog.Error("sign-in scheme failed to persist ticket",
						"scheme", e.scheme, "signInScheme", e.signInScheme, "err", err)
					http.Error(w, "authentication failed", http.StatusInternalServerError)
					return
				}
			} else {
				err = errors.Newf(errors.ErrCodeConfigInvalid, "scheme %q cannot sign in", e.signInScheme)
			}
		}
		if err != nil {
			slog.Error("sign-in scheme unavailable", "scheme", e.scheme, "err", err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// fail reports a failed callback. The failure handler may take over; the
// default response carries the mapped status and a generic message, never the
// diagnostic detail.
func (e *Engine) fail(w http.ResponseWriter, r *http.Request, result *authscheme.Result) {
	slog.Warn("remote authentication failed",
		"scheme", e.scheme, "code", errors.GetCode(result.Failure), "err", result.Failure)
	if e.failureHandler != nil && e.failureHandler(w, r, result) {
		return
	}
	status := http.StatusUnauthorized
	var ae *errors.Error
	if stderrors.As(result.Failure, &ae) {
		status = ae.HTTPStatusCode()
	}
	http.Error(w, "authentication failed", status)
}

// redirectURI computes the absolute callback URI registered with the
// provider.
func (e *Engine) redirectURI(r *http.Request) string {
	if e.baseURL != nil {
		u := *e.baseURL
		u.Path = e.callbackPath
		u.RawQuery = ""
		return u.String()
	}
	return requestScheme(r) + "://" + r.Host + e.callbackPath
}

// currentURL reconstructs the URL of the current request, used as the default
// post-login return target.
func (e *Engine) currentURL(r *http.Request) string {
	return requestScheme(r) + "://" + r.Host + r.URL.RequestURI()
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		return "https"
	}
	return "http"
}

func appendQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
