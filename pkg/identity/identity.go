package identity

// Well-known claim types. These mirror the short OIDC-style claim names rather
// than full URIs so tickets stay compact on the wire.
const (
	ClaimTypeName           = "name"
	ClaimTypeNameIdentifier = "nameidentifier"
	ClaimTypeRole           = "role"
	ClaimTypeEmail          = "email"
	ClaimTypeGivenName      = "givenname"
	ClaimTypeSurname        = "surname"
	ClaimTypePicture        = "picture"
)

// ClaimValueTypeString is the default value type for claims.
const ClaimValueTypeString = "string"

// LocalAuthority is the issuer recorded for claims produced by this process
// rather than an external identity provider.
const LocalAuthority = "LOCAL AUTHORITY"

// Claim is a single (type, value) attribute of an identity, together with the
// authority that issued it.
type Claim struct {
	Type           string
	Value          string
	ValueType      string
	Issuer         string
	OriginalIssuer string
	Properties     map[string]string
}

// NewClaim creates a claim with default value type and issuer.
func NewClaim(claimType, value string) Claim {
	return Claim{
		Type:           claimType,
		Value:          value,
		ValueType:      ClaimValueTypeString,
		Issuer:         LocalAuthority,
		OriginalIssuer: LocalAuthority,
	}
}

// NewClaimWithIssuer creates a claim attributed to the given issuer.
func NewClaimWithIssuer(claimType, value, issuer string) Claim {
	return Claim{
		Type:           claimType,
		Value:          value,
		ValueType:      ClaimValueTypeString,
		Issuer:         issuer,
		OriginalIssuer: issuer,
	}
}

// Equal reports whether two claims carry the same type, value, value type and
// issuers. Claim properties participate as well.
func (c Claim) Equal(other Claim) bool {
	if c.Type != other.Type || c.Value != other.Value ||
		c.ValueType != other.ValueType || c.Issuer != other.Issuer ||
		c.OriginalIssuer != other.OriginalIssuer {
		return false
	}
	if len(c.Properties) != len(other.Properties) {
		return false
	}
	for k, v := range c.Properties {
		if ov, ok := other.Properties[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Identity is a claim-bearing identity produced by one authentication method.
type Identity struct {
	// AuthenticationType names the method that established this identity,
	// typically the scheme name. An empty value means unauthenticated.
	AuthenticationType string

	// NameClaimType is the claim type consulted by Name. Defaults to
	// ClaimTypeName.
	NameClaimType string

	// RoleClaimType is the claim type consulted for role checks. Defaults to
	// ClaimTypeRole.
	RoleClaimType string

	Claims []Claim

	// Actor is the identity acting on behalf of this one (delegation), if any.
	Actor *Identity
}

// NewIdentity creates an authenticated identity with default name and role
// claim types.
func NewIdentity(authenticationType string) *Identity {
	return &Identity{
		AuthenticationType: authenticationType,
		NameClaimType:      ClaimTypeName,
		RoleClaimType:      ClaimTypeRole,
	}
}

// IsAuthenticated reports whether the identity was established by some
// authentication method.
func (i *Identity) IsAuthenticated() bool {
	return i != nil && i.AuthenticationType != ""
}

// AddClaim appends a claim to the identity.
func (i *Identity) AddClaim(c Claim) {
	i.Claims = append(i.Claims, c)
}

// AddClaims appends all given claims to the identity.
func (i *Identity) AddClaims(claims ...Claim) {
	i.Claims = append(i.Claims, claims...)
}

// FindFirst returns the first claim of the given type, or false when none
// exists.
func (i *Identity) FindFirst(claimType string) (Claim, bool) {
	if i == nil {
		return Claim{}, false
	}
	for _, c := range i.Claims {
		if c.Type == claimType {
			return c, true
		}
	}
	return Claim{}, false
}

// Name returns the value of the identity's name claim, or "".
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	nameType := i.NameClaimType
	if nameType == "" {
		nameType = ClaimTypeName
	}
	if c, ok := i.FindFirst(nameType); ok {
		return c.Value
	}
	return ""
}

// Equal reports deep equality of two identities, including the nested actor.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	if i.AuthenticationType != other.AuthenticationType ||
		i.NameClaimType != other.NameClaimType ||
		i.RoleClaimType != other.RoleClaimType ||
		len(i.Claims) != len(other.Claims) {
		return false
	}
	for n, c := range i.Claims {
		if !c.Equal(other.Claims[n]) {
			return false
		}
	}
	return i.Actor.Equal(other.Actor)
}

// Principal is the set of identities representing one authenticated caller.
type Principal struct {
	Identities []*Identity
}

// NewPrincipal creates a principal from the given identities.
func NewPrincipal(identities ...*Identity) *Principal {
	return &Principal{Identities: identities}
}

// AddIdentity appends an identity to the principal.
func (p *Principal) AddIdentity(i *Identity) {
	p.Identities = append(p.Identities, i)
}

// PrimaryIdentity returns the first authenticated identity, or the first
// identity when none is authenticated, or nil for an empty principal.
func (p *Principal) PrimaryIdentity() *Identity {
	if p == nil || len(p.Identities) == 0 {
		return nil
	}
	for _, id := range p.Identities {
		if id.IsAuthenticated() {
			return id
		}
	}
	return p.Identities[0]
}

// IsAuthenticated reports whether any identity in the principal is
// authenticated.
func (p *Principal) IsAuthenticated() bool {
	if p == nil {
		return false
	}
	for _, id := range p.Identities {
		if id.IsAuthenticated() {
			return true
		}
	}
	return false
}

// Name returns the name of the primary identity, or "".
func (p *Principal) Name() string {
	return p.PrimaryIdentity().Name()
}

// FindFirst returns the first claim of the given type across all identities.
func (p *Principal) FindFirst(claimType string) (Claim, bool) {
	if p == nil {
		return Claim{}, false
	}
	for _, id := range p.Identities {
		if c, ok := id.FindFirst(claimType); ok {
			return c, true
		}
	}
	return Claim{}, false
}

// HasClaim reports whether any identity carries a claim with the given type
// and value.
func (p *Principal) HasClaim(claimType, value string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.Identities {
		for _, c := range id.Claims {
			if c.Type == claimType && c.Value == value {
				return true
			}
		}
	}
	return false
}

// Equal reports deep equality of two principals.
func (p *Principal) Equal(other *Principal) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.Identities) != len(other.Identities) {
		return false
	}
	for n, id := range p.Identities {
		if !id.Equal(other.Identities[n]) {
			return false
		}
	}
	return true
}
