package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := New(ErrCodeStateInvalid, "state missing or invalid")
	assert.Equal(t, "[STATE_INVALID] state missing or invalid", e.Error())

	wrapped := Wrap(stderrors.New("boom"), ErrCodeExchangeFailed, "token exchange failed")
	assert.Equal(t, "[TOKEN_EXCHANGE_FAILED] token exchange failed: boom", wrapped.Error())
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "x %d", 1))
}

func TestUnwrapAndIsCode(t *testing.T) {
	cause := stderrors.New("connection refused")
	e := Wrap(cause, ErrCodeExchangeFailed, "token exchange failed")

	assert.True(t, stderrors.Is(e, cause))
	assert.True(t, IsCode(e, ErrCodeExchangeFailed))
	assert.False(t, IsCode(e, ErrCodeStateInvalid))
	assert.False(t, IsCode(cause, ErrCodeExchangeFailed))

	// The code survives another layer of fmt wrapping.
	outer := fmt.Errorf("callback: %w", e)
	assert.True(t, IsCode(outer, ErrCodeExchangeFailed))
	assert.Equal(t, ErrCodeExchangeFailed, GetCode(outer))
	assert.Equal(t, ErrCodeInternal, GetCode(cause))
}

func TestWithDetail(t *testing.T) {
	e := New(ErrCodeProviderError, "provider rejected the request").
		WithDetail("provider", "google").
		WithDetail("error", "access_denied")
	assert.Equal(t, "google", e.Details["provider"])
	assert.Equal(t, "access_denied", e.Details["error"])
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeStateInvalid, http.StatusUnauthorized},
		{ErrCodeCorrelationFailed, http.StatusUnauthorized},
		{ErrCodeTicketExpired, http.StatusUnauthorized},
		{ErrCodeProviderError, http.StatusForbidden},
		{ErrCodeExchangeFailed, http.StatusBadGateway},
		{ErrCodeMetadataFailed, http.StatusBadGateway},
		{ErrCodeConfigInvalid, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.status, MapErrorCodeToHTTPStatus(tc.code))
			assert.Equal(t, tc.status, New(tc.code, "x").HTTPStatusCode())
		})
	}
}
