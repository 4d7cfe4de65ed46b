package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesSetEmptyDeletes(t *testing.T) {
	p := NewProperties()
	p.SetString("key", "value")
	require.Equal(t, "value", p.GetString("key"))

	p.SetString("key", "")
	assert.Equal(t, "", p.GetString("key"))
	_, exists := p.Items["key"]
	assert.False(t, exists)
}

func TestPropertiesTimes(t *testing.T) {
	p := NewProperties()
	assert.True(t, p.IssuedAt().IsZero())
	assert.True(t, p.ExpiresAt().IsZero())

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.SetIssuedAt(issued)
	p.SetExpiresAt(issued.Add(time.Hour))
	assert.Equal(t, issued, p.IssuedAt())
	assert.Equal(t, issued.Add(time.Hour), p.ExpiresAt())

	// Stored as RFC3339 so the bag survives serialization as plain strings.
	assert.Equal(t, "2025-06-01T12:00:00Z", p.GetString(".issued"))

	p.SetIssuedAt(time.Time{})
	assert.True(t, p.IssuedAt().IsZero())
}

func TestPropertiesAllowRefresh(t *testing.T) {
	p := NewProperties()
	assert.True(t, p.AllowRefresh(), "defaults to true")

	p.SetAllowRefresh(false)
	assert.False(t, p.AllowRefresh())

	p.SetAllowRefresh(true)
	assert.True(t, p.AllowRefresh())
	_, exists := p.Items[".refresh"]
	assert.False(t, exists, "true is the default and stored implicitly")
}

func TestPropertiesTokenStore(t *testing.T) {
	p := NewProperties()
	p.StoreTokens([]Token{
		{Name: "access_token", Value: "at"},
		{Name: "refresh_token", Value: "rt"},
		{Name: "empty", Value: ""},
	})

	assert.Equal(t, "at", p.Token("access_token"))
	assert.Equal(t, "rt", p.Token("refresh_token"))
	assert.Equal(t, "", p.Token("empty"))
	assert.Len(t, p.Tokens(), 2)

	// Replacing the store removes tokens absent from the new set.
	p.StoreTokens([]Token{{Name: "access_token", Value: "at2"}})
	assert.Equal(t, "at2", p.Token("access_token"))
	assert.Equal(t, "", p.Token("refresh_token"))
	assert.Len(t, p.Tokens(), 1)
}

func TestPropertiesClone(t *testing.T) {
	p := NewProperties()
	p.SetString("key", "value")

	clone := p.Clone()
	require.True(t, p.Equal(clone))

	clone.SetString("key", "changed")
	assert.Equal(t, "value", p.GetString("key"), "clone must not alias the original")

	assert.Nil(t, (*Properties)(nil).Clone())
}
