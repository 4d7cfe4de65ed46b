// Package azuread contains the Azure AD (Microsoft Entra ID) preset over the
// OIDC flow. It only knows how to shape the authority URL for a tenant; all
// protocol behavior lives in oidcflow.
package azuread

import (
	"fmt"
	"strings"

	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/oidcflow"
)

// Well-known pseudo-tenants of the Microsoft identity platform.
const (
	// TenantCommon accepts both work/school and personal accounts.
	TenantCommon = "common"
	// TenantOrganizations accepts work/school accounts from any tenant.
	TenantOrganizations = "organizations"
	// TenantConsumers accepts personal Microsoft accounts only.
	TenantConsumers = "consumers"
)

const authorityFormat = "https://login.microsoftonline.com/%s/v2.0"

// Authority returns the v2.0 authority URL for the given tenant, which may be
// a tenant ID, a verified domain, or one of the pseudo-tenants.
func Authority(tenant string) string {
	return fmt.Sprintf(authorityFormat, tenant)
}

// Config is the Azure AD provider configuration.
type Config struct {
	// Tenant selects the directory to authenticate against. Defaults to
	// TenantCommon.
	Tenant string

	ClientID     string
	ClientSecret string
	Scopes       []string
	UsePKCE      bool
}

// New creates the Azure AD provider preset.
func New(cfg Config, opts ...oidcflow.Option) (*oidcflow.Provider, error) {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = TenantCommon
	}
	if strings.ContainsAny(tenant, "/?#") {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "invalid tenant: %s", tenant)
	}
	oidcCfg := oidcflow.Config{
		Authority:    Authority(tenant),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		UsePKCE:      cfg.UsePKCE,
		// The pseudo-tenant discovery documents publish a templated issuer
		// ("{tenantid}") that never matches a real token literally.
		SkipIssuerValidation: tenant == TenantCommon || tenant == TenantOrganizations,
	}
	return oidcflow.New("azuread", oidcCfg, opts...)
}
