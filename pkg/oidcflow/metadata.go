// Package oidcflow implements OpenID Connect authentication as a variant of
// the OAuth2 authorization-code flow: endpoints come from the provider's
// discovery document, and the exchanged id_token is validated against the
// provider's published signing keys.
package oidcflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/authkit/authkit/pkg/backchannel"
	"github.com/authkit/authkit/pkg/errors"
)

// discoveryPath is the well-known suffix of the provider configuration
// document.
const discoveryPath = "/.well-known/openid-configuration"

// Metadata is the subset of the provider configuration document the flow
// consumes.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// MetadataManager lazily fetches and caches a provider's discovery document
// and signing keys. The cache refreshes automatically when stale and on
// demand when a signing key is not found; in both cases at most one refresh
// per manager is in flight, concurrent callers share its result.
type MetadataManager struct {
	authority  string
	bc         *backchannel.Client
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	metadata  *Metadata
	keys      jwk.Set
	fetchedAt time.Time
}

// MetadataOption configures a MetadataManager.
type MetadataOption func(*MetadataManager)

// WithMetadataBackchannel substitutes the backchannel client used for
// discovery and JWKS fetches.
func WithMetadataBackchannel(bc *backchannel.Client) MetadataOption {
	return func(m *MetadataManager) {
		if bc != nil {
			m.bc = bc
		}
	}
}

// WithMetadataTTL overrides how long cached metadata is considered fresh.
func WithMetadataTTL(d time.Duration) MetadataOption {
	return func(m *MetadataManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// NewMetadataManager creates a metadata manager for the given authority, for
// example "https://accounts.google.com".
func NewMetadataManager(authority string, opts ...MetadataOption) (*MetadataManager, error) {
	u, err := url.Parse(authority)
	if err != nil || !u.IsAbs() {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "authority is not an absolute URL: %s", authority)
	}
	m := &MetadataManager{
		authority:  strings.TrimRight(authority, "/"),
		bc:         backchannel.New(),
		ttl:        12 * time.Hour,
		minRefresh: 30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Get returns the current metadata, fetching it on first use and refreshing
// it when stale.
func (m *MetadataManager) Get(ctx context.Context) (*Metadata, error) {
	m.mu.RLock()
	md, fetchedAt := m.metadata, m.fetchedAt
	m.mu.RUnlock()
	if md != nil && m.now().Sub(fetchedAt) < m.ttl {
		return md, nil
	}
	return m.refresh(ctx)
}

// Key returns the provider signing key with the given id. When the key is
// unknown the metadata is refreshed once and the lookup retried: providers
// rotate keys, and a signature minted moments after rotation is the expected
// trigger for a refresh.
func (m *MetadataManager) Key(ctx context.Context, kid string) (jwk.Key, error) {
	if _, err := m.Get(ctx); err != nil {
		return nil, err
	}
	if key, ok := m.lookup(kid); ok {
		return key, nil
	}
	slog.Info("signing key not in cached JWKS, refreshing metadata", "authority", m.authority, "kid", kid)
	if err := m.RequestRefresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := m.lookup(kid); ok {
		return key, nil
	}
	return nil, errors.Newf(errors.ErrCodeTokenInvalid, "signing key not found: %s", kid)
}

func (m *MetadataManager) lookup(kid string) (jwk.Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.keys == nil {
		return nil, false
	}
	return m.keys.LookupKeyID(kid)
}

// RequestRefresh forces a metadata refresh, rate-limited so repeated failures
// cannot turn into a fetch storm.
func (m *MetadataManager) RequestRefresh(ctx context.Context) error {
	m.mu.RLock()
	fetchedAt := m.fetchedAt
	m.mu.RUnlock()
	if m.now().Sub(fetchedAt) < m.minRefresh {
		return nil
	}
	_, err := m.refresh(ctx)
	return err
}

// refresh fetches the discovery document and JWKS. singleflight guarantees at
// most one concurrent fetch per manager; every waiting caller receives the
// same result.
func (m *MetadataManager) refresh(ctx context.Context) (*Metadata, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		md, keys, err := m.fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.metadata, m.keys, m.fetchedAt = md, keys, m.now()
		m.mu.Unlock()
		return md, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMetadataFailed, "provider metadata refresh failed")
	}
	return v.(*Metadata), nil
}

func (m *MetadataManager) fetch(ctx context.Context) (*Metadata, jwk.Set, error) {
	resp, err := m.bc.Get(ctx, m.authority+discoveryPath, "")
	if err != nil {
		return nil, nil, err
	}
	if !resp.Success() {
		return nil, nil, fmt.Errorf("discovery document returned status %d", resp.StatusCode)
	}
	var md Metadata
	if err := json.Unmarshal(resp.Body, &md); err != nil {
		return nil, nil, fmt.Errorf("discovery document parsing failed: %w", err)
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" || md.JWKSURI == "" {
		return nil, nil, fmt.Errorf("discovery document is missing required endpoints")
	}

	keysResp, err := m.bc.Get(ctx, md.JWKSURI, "")
	if err != nil {
		return nil, nil, err
	}
	if !keysResp.Success() {
		return nil, nil, fmt.Errorf("JWKS endpoint returned status %d", keysResp.StatusCode)
	}
	keys, err := jwk.Parse(keysResp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("JWKS parsing failed: %w", err)
	}
	slog.Debug("provider metadata refreshed", "authority", m.authority, "keys", keys.Len())
	return &md, keys, nil
}
