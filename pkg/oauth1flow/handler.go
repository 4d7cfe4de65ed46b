package oauth1flow

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/authkit/authkit/pkg/authscheme"
	"github.com/authkit/authkit/pkg/backchannel"
	"github.com/authkit/authkit/pkg/cookies"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/secure"
	"github.com/authkit/authkit/pkg/ticket"
)

// Twitter endpoints, the reference OAuth 1.0a deployment.
const (
	TwitterRequestTokenEndpoint      = "https://api.twitter.com/oauth/request_token"
	TwitterAuthenticationEndpoint    = "https://api.twitter.com/oauth/authenticate"
	TwitterAccessTokenEndpoint       = "https://api.twitter.com/oauth/access_token"
	TwitterVerifyCredentialsEndpoint = "https://api.twitter.com/1.1/account/verify_credentials.json"
)

const requestTokenCookiePrefix = "__AuthKit.RequestToken."

// DefaultRequestTokenLifetime bounds how long a challenge may wait for its
// callback.
const DefaultRequestTokenLifetime = 15 * time.Minute

// Config is the OAuth1 handler configuration.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string

	// CallbackPath is the local path the provider redirects back to.
	CallbackPath string

	// RetrieveEmail asks the provider for the user's email during credential
	// verification. Requires elevated app permissions on Twitter.
	RetrieveEmail bool

	// Endpoint overrides; Twitter's endpoints are the defaults.
	RequestTokenEndpoint      string
	AuthenticationEndpoint    string
	AccessTokenEndpoint       string
	VerifyCredentialsEndpoint string
}

func (c *Config) applyDefaults() {
	if c.RequestTokenEndpoint == "" {
		c.RequestTokenEndpoint = TwitterRequestTokenEndpoint
	}
	if c.AuthenticationEndpoint == "" {
		c.AuthenticationEndpoint = TwitterAuthenticationEndpoint
	}
	if c.AccessTokenEndpoint == "" {
		c.AccessTokenEndpoint = TwitterAccessTokenEndpoint
	}
	if c.VerifyCredentialsEndpoint == "" {
		c.VerifyCredentialsEndpoint = TwitterVerifyCredentialsEndpoint
	}
}

// Validate reports configuration problems synchronously at registration.
func (c Config) Validate() error {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "consumer key and secret are required")
	}
	if c.CallbackPath == "" || c.CallbackPath[0] != '/' {
		return errors.Newf(errors.ErrCodeConfigInvalid, "callback path must be absolute, got %q", c.CallbackPath)
	}
	return nil
}

// RequestTokenFormatVersion tags the protected request-token wire format.
const RequestTokenFormatVersion = "v1"

// NewRequestTokenFormat builds the secure format protecting the transient
// request-token cookie for one scheme.
func NewRequestTokenFormat(masterKey []byte, scheme string) (*secure.Format[*RequestToken], error) {
	protector, err := secure.NewAEADProtector(masterKey, "OAuth1Handler", scheme, RequestTokenFormatVersion)
	if err != nil {
		return nil, err
	}
	return secure.NewFormat[*RequestToken](RequestTokenSerializer{}, protector), nil
}

// Handler drives the OAuth 1.0a handshake for one scheme. Constructed once at
// registration with immutable configuration; safe for concurrent use.
type Handler struct {
	scheme      string
	cfg         Config
	signer      *signer
	bc          *backchannel.Client
	cookieMgr   cookies.Manager
	tokenFormat *secure.Format[*RequestToken]

	registry     *authscheme.Registry
	signInScheme string

	saveTokens bool
	lifetime   time.Duration
	baseURL    *url.URL
}

// Option configures a Handler.
type Option func(*Handler)

// WithSignIn hands successful tickets to the named sign-in scheme.
func WithSignIn(registry *authscheme.Registry, scheme string) Option {
	return func(h *Handler) {
		h.registry = registry
		h.signInScheme = scheme
	}
}

// WithSaveTokens stores the exchanged access token and secret in the ticket's
// token store.
func WithSaveTokens() Option {
	return func(h *Handler) { h.saveTokens = true }
}

// WithBackchannel substitutes the backchannel client.
func WithBackchannel(bc *backchannel.Client) Option {
	return func(h *Handler) {
		if bc != nil {
			h.bc = bc
		}
	}
}

// WithCookieManager overrides the cookie transport.
func WithCookieManager(m cookies.Manager) Option {
	return func(h *Handler) {
		if m != nil {
			h.cookieMgr = m
		}
	}
}

// WithRequestTokenLifetime bounds how long a challenge may wait for its
// callback.
func WithRequestTokenLifetime(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.lifetime = d
		}
	}
}

// WithBaseURL fixes the external base URL used to build the callback URI, for
// deployments behind a proxy.
func WithBaseURL(base string) Option {
	return func(h *Handler) {
		if u, err := url.Parse(base); err == nil {
			h.baseURL = u
		}
	}
}

// New creates the OAuth1 handler for one scheme.
func New(scheme string, cfg Config, tokenFormat *secure.Format[*RequestToken], opts ...Option) (*Handler, error) {
	if scheme == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "scheme name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokenFormat == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a request token format is required")
	}
	cfg.applyDefaults()
	h := &Handler{
		scheme:      scheme,
		cfg:         cfg,
		signer:      newSigner(cfg.ConsumerKey, cfg.ConsumerSecret),
		bc:          backchannel.New(),
		cookieMgr:   cookies.NewManager(),
		tokenFormat: tokenFormat,
		lifetime:    DefaultRequestTokenLifetime,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.signInScheme != "" && h.registry == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "a registry is required to resolve the sign-in scheme")
	}
	return h, nil
}

// Scheme returns the scheme name this handler serves.
func (h *Handler) Scheme() string { return h.scheme }

// Authenticate reports no result; identity is established only through the
// callback and handed to the session scheme.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) *authscheme.Result {
	return authscheme.None()
}

func (h *Handler) cookieName() string {
	return requestTokenCookiePrefix + h.scheme
}

func (h *Handler) cookieOptions() cookies.Options {
	return cookies.Options{
		HTTPOnly: true,
		Secure:   cookies.SecureSameAsRequest,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.lifetime),
	}
}

// Challenge obtains a request token from the provider, protects it into a
// transient cookie together with the properties bag, and redirects the user
// agent to the provider's authentication page.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error {
	if props == nil {
		props = ticket.NewProperties()
	}
	if props.RedirectURI() == "" {
		props.SetRedirectURI(currentURL(r))
	}

	rt, err := h.obtainRequestToken(r, props)
	if err != nil {
		return err
	}
	if !rt.CallbackConfirmed {
		return errors.New(errors.ErrCodeExchangeFailed, "provider did not confirm the callback")
	}

	protected, err := h.tokenFormat.Protect(rt)
	if err != nil {
		return fmt.Errorf("request token protection failed: %w", err)
	}
	h.cookieMgr.Append(w, r, h.cookieName(), protected, h.cookieOptions())

	authURL := h.cfg.AuthenticationEndpoint + "?oauth_token=" + url.QueryEscape(rt.Token)
	slog.Debug("issuing remote authentication challenge", "scheme", h.scheme)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// ShouldHandle reports whether the request targets this handler's callback
// path.
func (h *Handler) ShouldHandle(r *http.Request) bool {
	return r.URL.Path == h.cfg.CallbackPath
}

// HandleRequest processes the provider callback when the request targets the
// callback path. It reports whether the response has been written.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) bool {
	if !h.ShouldHandle(r) {
		return false
	}
	result := h.processCallback(w, r)
	if result.Succeeded() {
		h.deliver(w, r, result.Ticket)
	} else {
		h.fail(w, result)
	}
	return true
}

// processCallback runs the callback sequence and classifies every failure into
// a typed result. The callback is attacker-influenced input, so nothing
// escapes this method.
func (h *Handler) processCallback(w http.ResponseWriter, r *http.Request) (result *authscheme.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("remote authentication panicked", "scheme", h.scheme, "panic", rec)
			result = authscheme.Fail(errors.Newf(errors.ErrCodeInternal, "authentication failed unexpectedly"))
		}
	}()

	cookie, err := r.Cookie(h.cookieName())
	if err != nil || cookie.Value == "" {
		return authscheme.Fail(errors.New(errors.ErrCodeStateInvalid, "the request token cookie was missing"))
	}
	// Single use, deleted regardless of outcome.
	h.cookieMgr.Delete(w, r, h.cookieName(), h.cookieOptions())

	rt, ok := h.tokenFormat.Unprotect(cookie.Value)
	if !ok {
		return authscheme.Fail(errors.New(errors.ErrCodeStateInvalid, "the request token was invalid"))
	}
	props := rt.Properties

	q := r.URL.Query()
	if denied := q.Get("denied"); denied != "" {
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeProviderError, "the user denied the authorization request"), props)
	}
	if q.Get("oauth_token") != rt.Token {
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeCorrelationFailed, "the callback token does not match the request token"), props)
	}
	verifier := q.Get("oauth_verifier")
	if verifier == "" {
		return authscheme.FailWithProperties(
			errors.New(errors.ErrCodeCodeMissing, "the verifier was missing"), props)
	}

	access, err := h.exchange(r, rt, verifier)
	if err != nil {
		return authscheme.FailWithProperties(
			errors.Wrap(err, errors.ErrCodeExchangeFailed, "access token exchange failed"), props)
	}

	principal, err := h.verifyCredentials(r, access)
	if err != nil {
		return authscheme.FailWithProperties(
			errors.Wrap(err, errors.ErrCodeUserInfoFailed, "identity construction failed"), props)
	}

	if h.saveTokens {
		props.StoreTokens([]ticket.Token{
			{Name: "access_token", Value: access.Token},
			{Name: "access_token_secret", Value: access.TokenSecret},
		})
	}

	t := ticket.New(principal, h.scheme, props)
	slog.Info("remote authentication succeeded", "scheme", h.scheme, "name", t.Principal.Name())
	return authscheme.Success(t)
}

// accessToken is the result of the final exchange leg.
type accessToken struct {
	Token       string
	TokenSecret string
	UserID      string
	ScreenName  string
}

// obtainRequestToken performs the signed request-token call. The callback URI
// participates in the signature, so the provider can refuse an unregistered
// one up front.
func (h *Handler) obtainRequestToken(r *http.Request, props *ticket.Properties) (*RequestToken, error) {
	callbackURI := h.callbackURI(r)
	header, err := h.signer.authorizationHeader(http.MethodPost, h.cfg.RequestTokenEndpoint, nil,
		map[string]string{"oauth_callback": callbackURI}, "", "")
	if err != nil {
		return nil, err
	}
	resp, err := h.signedPost(r, h.cfg.RequestTokenEndpoint, header)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("request token endpoint failure: %s", resp.Diagnostic())
	}
	fields, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("request token response parsing failed: %w", err)
	}
	rt := &RequestToken{
		Token:             fields.Get("oauth_token"),
		TokenSecret:       fields.Get("oauth_token_secret"),
		CallbackConfirmed: fields.Get("oauth_callback_confirmed") == "true",
		Properties:        props,
	}
	if rt.Token == "" || rt.TokenSecret == "" {
		return nil, fmt.Errorf("request token response is missing the token")
	}
	return rt, nil
}

// exchange trades the verified request token for an access token.
func (h *Handler) exchange(r *http.Request, rt *RequestToken, verifier string) (*accessToken, error) {
	header, err := h.signer.authorizationHeader(http.MethodPost, h.cfg.AccessTokenEndpoint, nil,
		map[string]string{"oauth_verifier": verifier}, rt.Token, rt.TokenSecret)
	if err != nil {
		return nil, err
	}
	resp, err := h.signedPost(r, h.cfg.AccessTokenEndpoint, header)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("access token endpoint failure: %s", resp.Diagnostic())
	}
	fields, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("access token response parsing failed: %w", err)
	}
	access := &accessToken{
		Token:       fields.Get("oauth_token"),
		TokenSecret: fields.Get("oauth_token_secret"),
		UserID:      fields.Get("user_id"),
		ScreenName:  fields.Get("screen_name"),
	}
	if access.Token == "" || access.TokenSecret == "" {
		return nil, fmt.Errorf("access token response is missing the token")
	}
	return access, nil
}

// verifyCredentials retrieves the authenticated user's profile with a signed
// GET and maps it onto an identity.
func (h *Handler) verifyCredentials(r *http.Request, access *accessToken) (*identity.Principal, error) {
	endpoint := h.cfg.VerifyCredentialsEndpoint
	extra := url.Values{}
	if h.cfg.RetrieveEmail {
		extra.Set("include_email", "true")
		endpoint += "?include_email=true"
	}
	header, err := h.signer.authorizationHeader(http.MethodGet, h.cfg.VerifyCredentialsEndpoint, extra,
		nil, access.Token, access.TokenSecret)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("credential verification request construction failed: %w", err)
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")
	resp, err := h.bc.Do(req)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("credential verification returned status %d", resp.StatusCode)
	}
	var profile struct {
		IDStr      string `json:"id_str"`
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
		Email      string `json:"email"`
	}
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return nil, fmt.Errorf("credential verification parsing failed: %w", err)
	}

	id := identity.NewIdentity(h.scheme)
	subject := profile.IDStr
	if subject == "" {
		subject = access.UserID
	}
	name := profile.ScreenName
	if name == "" {
		name = access.ScreenName
	}
	if subject != "" {
		id.AddClaim(identity.NewClaimWithIssuer(identity.ClaimTypeNameIdentifier, subject, h.scheme))
	}
	if name != "" {
		id.AddClaim(identity.NewClaimWithIssuer(identity.ClaimTypeName, name, h.scheme))
	}
	if profile.Email != "" {
		id.AddClaim(identity.NewClaimWithIssuer(identity.ClaimTypeEmail, profile.Email, h.scheme))
	}
	return identity.NewPrincipal(id), nil
}

func (h *Handler) signedPost(r *http.Request, endpoint, authorization string) (*backchannel.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("backchannel request construction failed: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	return h.bc.Do(req)
}

// deliver hands the ticket to the sign-in scheme and sends the user back to
// the resource they originally requested.
func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) {
	target := t.Properties.RedirectURI()
	t.Properties.SetRedirectURI("")
	if target == "" {
		target = "/"
	}

	if h.signInScheme != "" {
		scheme, err := h.registry.ResolveSignIn(h.signInScheme)
		if err == nil {
			if signIn, ok := scheme.Handler.(authscheme.SignInHandler); ok {
				if err := signIn.SignIn(w, r, t); err != nil {
					slog.Error("sign-in scheme failed to persist ticket",
						"scheme", h.scheme, "signInScheme", h.signInScheme, "err", err)
					http.Error(w, "authentication failed", http.StatusInternalServerError)
					return
				}
			} else {
				err = errors.Newf(errors.ErrCodeConfigInvalid, "scheme %q cannot sign in", h.signInScheme)
			}
		}
		if err != nil {
			slog.Error("sign-in scheme unavailable", "scheme", h.scheme, "err", err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, result *authscheme.Result) {
	slog.Warn("remote authentication failed",
		"scheme", h.scheme, "code", errors.GetCode(result.Failure), "err", result.Failure)
	status := http.StatusUnauthorized
	var ae *errors.Error
	if stderrors.As(result.Failure, &ae) {
		status = ae.HTTPStatusCode()
	}
	http.Error(w, "authentication failed", status)
}

// callbackURI computes the absolute callback URI registered with the
// provider.
func (h *Handler) callbackURI(r *http.Request) string {
	if h.baseURL != nil {
		u := *h.baseURL
		u.Path = h.cfg.CallbackPath
		u.RawQuery = ""
		return u.String()
	}
	return requestScheme(r) + "://" + r.Host + h.cfg.CallbackPath
}

func currentURL(r *http.Request) string {
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

var _ interface {
	authscheme.Handler
	authscheme.ChallengeHandler
	authscheme.RequestHandler
} = (*Handler)(nil)
