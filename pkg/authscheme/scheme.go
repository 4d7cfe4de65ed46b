// Package authscheme defines the contracts between the authentication core
// and the HTTP pipeline: named schemes, the handler interfaces they expose,
// the typed result of an authentication attempt, and the registry that
// resolves scheme names to handlers.
package authscheme

import (
	"net/http"

	"github.com/authkit/authkit/pkg/ticket"
)

// Handler authenticates the inbound request for one scheme. Implementations
// hold only immutable configuration and are safe for concurrent use; all
// per-request state is reconstructed from the request itself.
type Handler interface {
	// Authenticate inspects the request and produces a typed result. It never
	// panics past its own boundary and never writes a response body; it may
	// touch response cookies (for example to renew a session).
	Authenticate(w http.ResponseWriter, r *http.Request) *Result
}

// ChallengeHandler is implemented by schemes that can initiate an
// authentication flow, typically by redirecting to an identity provider or a
// login page.
type ChallengeHandler interface {
	Challenge(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error
}

// SignInHandler is implemented by schemes that can persist a principal, such
// as the cookie session scheme.
type SignInHandler interface {
	SignIn(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) error
}

// SignOutHandler is implemented by schemes that can clear a persisted
// principal.
type SignOutHandler interface {
	SignOut(w http.ResponseWriter, r *http.Request, props *ticket.Properties) error
}

// RequestHandler is implemented by schemes that intercept dedicated request
// paths, such as a remote handler's callback endpoint. HandleRequest reports
// whether the response has been written and the pipeline should stop.
type RequestHandler interface {
	ShouldHandle(r *http.Request) bool
	HandleRequest(w http.ResponseWriter, r *http.Request) bool
}

// Scheme binds a unique name to a configured handler. Immutable once added to
// a registry.
type Scheme struct {
	// Name uniquely identifies the scheme within a registry, e.g. "cookies"
	// or "google".
	Name string

	// DisplayName is an optional human-readable label.
	DisplayName string

	// Handler performs authentication for this scheme.
	Handler Handler
}

// Result is the outcome of one authentication attempt.
type Result struct {
	// Ticket is set on success.
	Ticket *ticket.Ticket

	// Failure is set when the attempt failed. A nil Failure with a nil Ticket
	// means "no result": the handler found nothing to act on.
	Failure error

	// Properties may accompany a failure when the protected state itself was
	// valid, so callers can still inspect the intended redirect target.
	Properties *ticket.Properties
}

// Success creates a successful result carrying the ticket.
func Success(t *ticket.Ticket) *Result {
	return &Result{Ticket: t}
}

// Fail creates a failed result.
func Fail(err error) *Result {
	return &Result{Failure: err}
}

// FailWithProperties creates a failed result that still carries the recovered
// properties bag.
func FailWithProperties(err error, props *ticket.Properties) *Result {
	return &Result{Failure: err, Properties: props}
}

// None creates an empty result: not authenticated, not failed.
func None() *Result {
	return &Result{}
}

// Succeeded reports whether the attempt produced a ticket.
func (r *Result) Succeeded() bool {
	return r != nil && r.Ticket != nil
}

// NoResult reports whether the handler found nothing to act on.
func (r *Result) NoResult() bool {
	return r == nil || (r.Ticket == nil && r.Failure == nil)
}
