package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkit/authkit/pkg/authscheme"
	"github.com/authkit/authkit/pkg/cookies"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/secure"
	"github.com/authkit/authkit/pkg/ticket"
)

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

// fakeFlow is a configurable Flow for exercising the engine.
type fakeFlow struct {
	prepare   func(props *ticket.Properties) error
	exchange  func(cb Callback, props *ticket.Properties) (*TokenSet, error)
	principal func(tokens *TokenSet, props *ticket.Properties) (*identity.Principal, error)
}

func (f *fakeFlow) PrepareChallenge(ctx context.Context, props *ticket.Properties) error {
	if f.prepare != nil {
		return f.prepare(props)
	}
	return nil
}

func (f *fakeFlow) BuildChallengeURL(ctx context.Context, redirectURI, state string, props *ticket.Properties) (string, error) {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state) +
		"&redirect_uri=" + url.QueryEscape(redirectURI), nil
}

func (f *fakeFlow) UnpackCallback(r *http.Request) Callback {
	q := r.URL.Query()
	cb := Callback{State: q.Get("state"), Proof: q.Get("code")}
	if e := q.Get("error"); e != "" {
		cb.ProviderError = e
	}
	return cb
}

func (f *fakeFlow) Exchange(ctx context.Context, cb Callback, redirectURI string, props *ticket.Properties) (*TokenSet, error) {
	if f.exchange != nil {
		return f.exchange(cb, props)
	}
	return &TokenSet{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (f *fakeFlow) BuildPrincipal(ctx context.Context, tokens *TokenSet, props *ticket.Properties) (*identity.Principal, error) {
	if f.principal != nil {
		return f.principal(tokens, props)
	}
	id := identity.NewIdentity("test")
	id.AddClaim(identity.NewClaimWithIssuer(identity.ClaimTypeName, "alice", "test"))
	return identity.NewPrincipal(id), nil
}

// captureSignIn records the ticket handed over by the engine.
type captureSignIn struct {
	ticket *ticket.Ticket
	err    error
}

func (c *captureSignIn) Authenticate(w http.ResponseWriter, r *http.Request) *authscheme.Result {
	return authscheme.None()
}

func (c *captureSignIn) SignIn(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) error {
	c.ticket = t
	return c.err
}

func newStateFormat(t *testing.T) *secure.Format[*ticket.Properties] {
	t.Helper()
	f, err := NewStateFormat(testMasterKey, "TestHandler", "test")
	require.NoError(t, err)
	return f
}

func newTestEngine(t *testing.T, sink *captureSignIn, opts ...Option) *Engine {
	t.Helper()
	registry := authscheme.NewRegistry()
	require.NoError(t, registry.Add(&authscheme.Scheme{Name: "cookies", Handler: sink}))
	opts = append([]Option{WithSignIn(registry, "cookies"), WithSaveTokens()}, opts...)
	e, err := NewEngine("test", "/signin-test", &fakeFlow{}, newStateFormat(t), opts...)
	require.NoError(t, err)
	return e
}

// challenge runs the challenge leg and returns the provider redirect plus the
// correlation cookie to replay on the callback.
func challenge(t *testing.T, e *Engine) (state string, correlation *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://app.example/protected", nil)
	require.NoError(t, e.Challenge(w, r, nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state = loc.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return state, cookies[0]
}

func callback(t *testing.T, e *Engine, rawQuery string, correlation *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://app.example/signin-test?"+rawQuery, nil)
	if correlation != nil {
		r.AddCookie(correlation)
	}
	require.True(t, e.HandleRequest(w, r))
	return w
}

func TestNewEngineValidation(t *testing.T) {
	sf := newStateFormat(t)
	flow := &fakeFlow{}

	_, err := NewEngine("", "/cb", flow, sf)
	assert.Error(t, err)
	_, err = NewEngine("test", "cb", flow, sf)
	assert.Error(t, err, "relative callback path")
	_, err = NewEngine("test", "/cb", nil, sf)
	assert.Error(t, err)
	_, err = NewEngine("test", "/cb", flow, nil)
	assert.Error(t, err)
	_, err = NewEngine("test", "/cb", flow, sf, WithSignIn(nil, "cookies"))
	assert.Error(t, err, "sign-in scheme without a registry")
}

func TestChallengeProtectsStateAndSetsCorrelation(t *testing.T) {
	e := newTestEngine(t, &captureSignIn{})
	state, correlation := challenge(t, e)

	props, ok := newStateFormat(t).Unprotect(state)
	require.True(t, ok)
	assert.Equal(t, "http://app.example/protected", props.RedirectURI())
	assert.Equal(t, correlation.Value, props.GetString(".correlation.test"))
}

func TestCallbackSuccess(t *testing.T) {
	sink := &captureSignIn{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, sink, WithClock(func() time.Time { return now }))

	state, correlation := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app.example/protected", w.Header().Get("Location"))

	require.NotNil(t, sink.ticket)
	assert.Equal(t, "test", sink.ticket.Scheme)
	assert.Equal(t, "alice", sink.ticket.Principal.Name())
	assert.Equal(t, "", sink.ticket.Properties.RedirectURI(), "cleared before handoff")
	assert.Equal(t, "at", sink.ticket.Properties.Token("access_token"))
	assert.Equal(t, "2025-06-01T13:00:00Z", sink.ticket.Properties.Token("expires_at"))
}

func TestCallbackInvalidState(t *testing.T) {
	var captured *authscheme.Result
	e := newTestEngine(t, &captureSignIn{}, WithFailureHandler(
		func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))

	_, correlation := challenge(t, e)
	w := callback(t, e, "state=forged&code=authcode", correlation)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, errors.ErrCodeStateInvalid, errors.GetCode(captured.Failure))
	assert.Nil(t, captured.Properties, "an unreadable state yields no properties")
}

func TestCallbackCorrelationMissing(t *testing.T) {
	var captured *authscheme.Result
	e := newTestEngine(t, &captureSignIn{}, WithFailureHandler(
		func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))

	state, _ := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, errors.ErrCodeCorrelationFailed, errors.GetCode(captured.Failure))
	// The state itself was readable, so the recovered properties accompany
	// the failure, with the correlation value stripped.
	require.NotNil(t, captured.Properties)
	assert.Equal(t, "http://app.example/protected", captured.Properties.RedirectURI())
	assert.Equal(t, "", captured.Properties.GetString(".correlation.test"))
}

func TestCallbackProviderError(t *testing.T) {
	var captured *authscheme.Result
	e := newTestEngine(t, &captureSignIn{}, WithFailureHandler(
		func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))

	state, correlation := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&error=access_denied", correlation)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.ErrCodeProviderError, errors.GetCode(captured.Failure))
	assert.NotNil(t, captured.Properties)
}

func TestCallbackMissingCode(t *testing.T) {
	var captured *authscheme.Result
	e := newTestEngine(t, &captureSignIn{}, WithFailureHandler(
		func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))

	state, correlation := challenge(t, e)
	callback(t, e, "state="+url.QueryEscape(state), correlation)

	assert.Equal(t, errors.ErrCodeCodeMissing, errors.GetCode(captured.Failure))
}

func TestCallbackExchangeFailure(t *testing.T) {
	sink := &captureSignIn{}
	registry := authscheme.NewRegistry()
	require.NoError(t, registry.Add(&authscheme.Scheme{Name: "cookies", Handler: sink}))

	var captured *authscheme.Result
	flow := &fakeFlow{exchange: func(cb Callback, props *ticket.Properties) (*TokenSet, error) {
		return nil, assertableError("the provider said no")
	}}
	e, err := NewEngine("test", "/signin-test", flow, newStateFormat(t),
		WithSignIn(registry, "cookies"),
		WithFailureHandler(func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))
	require.NoError(t, err)

	state, correlation := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, errors.ErrCodeExchangeFailed, errors.GetCode(captured.Failure))
	assert.Contains(t, captured.Failure.Error(), "the provider said no")
	assert.Nil(t, sink.ticket)
}

func TestCallbackEmptyAccessToken(t *testing.T) {
	var captured *authscheme.Result
	flow := &fakeFlow{exchange: func(cb Callback, props *ticket.Properties) (*TokenSet, error) {
		return &TokenSet{}, nil
	}}
	e, err := NewEngine("test", "/signin-test", flow, newStateFormat(t),
		WithFailureHandler(func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))
	require.NoError(t, err)

	state, correlation := challenge(t, e)
	callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	assert.Equal(t, errors.ErrCodeAccessTokenMissing, errors.GetCode(captured.Failure))
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	flow := &fakeFlow{exchange: func(cb Callback, props *ticket.Properties) (*TokenSet, error) {
		panic("flow bug")
	}}
	e, err := NewEngine("test", "/signin-test", flow, newStateFormat(t))
	require.NoError(t, err)

	state, correlation := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCallbackUnauthenticatedPrincipalRedirectsWithError(t *testing.T) {
	flow := &fakeFlow{principal: func(tokens *TokenSet, props *ticket.Properties) (*identity.Principal, error) {
		return identity.NewPrincipal(&identity.Identity{}), nil
	}}
	e, err := NewEngine("test", "/signin-test", flow, newStateFormat(t))
	require.NoError(t, err)

	state, correlation := challenge(t, e)
	w := callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	assert.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
}

func TestTicketHookCanRejectAndReplace(t *testing.T) {
	sink := &captureSignIn{}
	e := newTestEngine(t, sink, WithTicketHook(
		func(r *http.Request, tk *ticket.Ticket, tokens *TokenSet) (*ticket.Ticket, error) {
			id := identity.NewIdentity("enriched")
			id.AddClaim(identity.NewClaim(identity.ClaimTypeName, "mapped"))
			return ticket.New(identity.NewPrincipal(id), tk.Scheme, tk.Properties), nil
		}))

	state, correlation := challenge(t, e)
	callback(t, e, "state="+url.QueryEscape(state)+"&code=authcode", correlation)

	require.NotNil(t, sink.ticket)
	assert.Equal(t, "mapped", sink.ticket.Principal.Name())

	var captured *authscheme.Result
	rejecting := newTestEngine(t, &captureSignIn{},
		WithTicketHook(func(r *http.Request, tk *ticket.Ticket, tokens *TokenSet) (*ticket.Ticket, error) {
			return nil, assertableError("not on the allowlist")
		}),
		WithFailureHandler(func(w http.ResponseWriter, r *http.Request, result *authscheme.Result) bool {
			captured = result
			return false
		}))
	state, correlation = challenge(t, rejecting)
	callback(t, rejecting, "state="+url.QueryEscape(state)+"&code=authcode", correlation)
	assert.Equal(t, errors.ErrCodeTicketRejected, errors.GetCode(captured.Failure))
}

func TestShouldHandle(t *testing.T) {
	e := newTestEngine(t, &captureSignIn{})
	assert.True(t, e.ShouldHandle(httptest.NewRequest(http.MethodGet, "/signin-test", nil)))
	assert.False(t, e.ShouldHandle(httptest.NewRequest(http.MethodGet, "/other", nil)))

	w := httptest.NewRecorder()
	assert.False(t, e.HandleRequest(w, httptest.NewRequest(http.MethodGet, "/other", nil)))
}

func TestWithBaseURL(t *testing.T) {
	e, err := NewEngine("test", "/signin-test", &fakeFlow{}, newStateFormat(t),
		WithBaseURL("https://public.example"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/x", nil)
	assert.Equal(t, "https://public.example/signin-test", e.redirectURI(r))
}

// recordingCookieManager counts the cookies written through it.
type recordingCookieManager struct {
	cookies.Manager
	appended []string
}

func (m *recordingCookieManager) Append(w http.ResponseWriter, r *http.Request, name, value string, opts cookies.Options) {
	m.appended = append(m.appended, name)
	m.Manager.Append(w, r, name, value, opts)
}

func TestCorrelationUsesConfiguredCookieTransport(t *testing.T) {
	rec := &recordingCookieManager{Manager: cookies.NewManager()}
	// The lifetime option precedes the transport option; the correlation
	// cookie must still go through the configured transport.
	e, err := NewEngine("test", "/signin-test", &fakeFlow{}, newStateFormat(t),
		WithCorrelationLifetime(time.Minute),
		WithCookieManager(rec))
	require.NoError(t, err)

	challenge(t, e)
	require.Len(t, rec.appended, 1)
	assert.Equal(t, "__AuthKit.Correlation.test", rec.appended[0])
	assert.Equal(t, time.Minute, e.correlation.lifetime)
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
