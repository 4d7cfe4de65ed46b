package ticket

import (
	"github.com/authkit/authkit/pkg/identity"
)

// Ticket is the immutable result of a successful authentication: the
// principal, the scheme that produced it, and its metadata.
type Ticket struct {
	Principal  *identity.Principal
	Scheme     string
	Properties *Properties
}

// New creates a ticket for the given principal and scheme with an empty
// properties bag when none is supplied.
func New(principal *identity.Principal, scheme string, props *Properties) *Ticket {
	if props == nil {
		props = NewProperties()
	}
	return &Ticket{Principal: principal, Scheme: scheme, Properties: props}
}

// Equal reports whether two tickets carry the same principal, scheme and
// properties.
func (t *Ticket) Equal(other *Ticket) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Scheme == other.Scheme &&
		t.Principal.Equal(other.Principal) &&
		t.Properties.Equal(other.Properties)
}
