package authscheme

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/ticket"
)

type stubHandler struct{}

func (stubHandler) Authenticate(w http.ResponseWriter, r *http.Request) *Result { return None() }

type stubRequestHandler struct {
	stubHandler
	path string
}

func (h stubRequestHandler) ShouldHandle(r *http.Request) bool                 { return r.URL.Path == h.path }
func (h stubRequestHandler) HandleRequest(http.ResponseWriter, *http.Request) bool { return true }

func TestRegistryAdd(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}}))

	err := reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemeDuplicate))

	assert.Error(t, reg.Add(&Scheme{Name: "", Handler: stubHandler{}}))
	assert.Error(t, reg.Add(&Scheme{Name: "nohandler"}))
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}}))

	s, err := reg.Get("cookies")
	require.NoError(t, err)
	assert.Equal(t, "cookies", s.Name)

	_, err = reg.Get("unknown")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemeUnknown))
}

func TestRegistryDefaultsMustBeRegistered(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}}))

	assert.Error(t, reg.SetDefaults(Defaults{Authenticate: "missing"}))
	assert.NoError(t, reg.SetDefaults(Defaults{Authenticate: "cookies"}))
}

func TestRegistryResolveFallbackChain(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}}))
	require.NoError(t, reg.Add(&Scheme{Name: "google", Handler: stubHandler{}}))
	require.NoError(t, reg.SetDefaults(Defaults{Authenticate: "cookies", Challenge: "google"}))

	s, err := reg.ResolveChallenge("")
	require.NoError(t, err)
	assert.Equal(t, "google", s.Name, "kind default")

	s, err = reg.ResolveSignIn("")
	require.NoError(t, err)
	assert.Equal(t, "cookies", s.Name, "falls back to the authenticate default")

	s, err = reg.ResolveChallenge("cookies")
	require.NoError(t, err)
	assert.Equal(t, "cookies", s.Name, "explicit name wins")

	empty := NewRegistry()
	_, err = empty.ResolveAuthenticate("")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemeUnknown))
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"twitter", "cookies", "google"} {
		require.NoError(t, reg.Add(&Scheme{Name: name, Handler: stubHandler{}}))
	}
	assert.Equal(t, []string{"cookies", "google", "twitter"}, reg.Names())
}

func TestRegistryRequestHandlers(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Scheme{Name: "cookies", Handler: stubHandler{}}))
	require.NoError(t, reg.Add(&Scheme{Name: "google", Handler: stubRequestHandler{path: "/signin-google"}}))

	handlers := reg.RequestHandlers()
	require.Len(t, handlers, 1)
	req, _ := http.NewRequest(http.MethodGet, "/signin-google", nil)
	assert.True(t, handlers[0].ShouldHandle(req))
}

func TestResultStates(t *testing.T) {
	tk := ticket.New(nil, "cookies", nil)

	assert.True(t, Success(tk).Succeeded())
	assert.False(t, Success(tk).NoResult())

	failed := Fail(errors.New(errors.ErrCodeUnauthorized, "nope"))
	assert.False(t, failed.Succeeded())
	assert.False(t, failed.NoResult())

	assert.True(t, None().NoResult())
	assert.True(t, (*Result)(nil).NoResult())
	assert.False(t, (*Result)(nil).Succeeded())
}
