package cookies

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAndRead(t *testing.T, r *http.Request, opts Options) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	NewManager().Append(w, r, "session", "value", opts)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestAppendDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
	c := appendAndRead(t, r, Options{HTTPOnly: true})

	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "value", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestSecurePolicy(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
	tlsReq := httptest.NewRequest(http.MethodGet, "https://app.example/", nil)
	tlsReq.TLS = &tls.ConnectionState{}

	assert.False(t, appendAndRead(t, plain, Options{Secure: SecureSameAsRequest}).Secure)
	assert.True(t, appendAndRead(t, tlsReq, Options{Secure: SecureSameAsRequest}).Secure)
	assert.True(t, appendAndRead(t, plain, Options{Secure: SecureAlways}).Secure)
	assert.False(t, appendAndRead(t, tlsReq, Options{Secure: SecureNever}).Secure)
}

func TestSameSiteNoneRequiresSecure(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
	tlsReq := httptest.NewRequest(http.MethodGet, "https://app.example/", nil)
	tlsReq.TLS = &tls.ConnectionState{}

	opts := Options{Secure: SecureSameAsRequest, SameSite: http.SameSiteNoneMode}
	assert.Equal(t, http.SameSiteNoneMode, appendAndRead(t, tlsReq, opts).SameSite)
	// Browsers reject None without Secure, so insecure transport gets Lax.
	assert.Equal(t, http.SameSiteLaxMode, appendAndRead(t, plain, opts).SameSite)
	assert.Equal(t, http.SameSiteNoneMode,
		appendAndRead(t, plain, Options{Secure: SecureAlways, SameSite: http.SameSiteNoneMode}).SameSite)
}

func TestDeleteExpiresCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
	w := httptest.NewRecorder()
	NewManager().Delete(w, r, "session", Options{Path: "/auth"})

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "session", c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, "/auth", c.Path)
	assert.Equal(t, -1, c.MaxAge)
	assert.True(t, c.Expires.Unix() <= 0)
}
