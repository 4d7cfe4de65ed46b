// Package authmw wires the scheme registry into an HTTP middleware pipeline:
// one middleware that authenticates every request and dispatches scheme
// callback endpoints, and one that gates route groups behind a challenge.
package authmw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/authkit/authkit/pkg/authscheme"
	"github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/ticket"
)

type contextKey string

const (
	principalKey contextKey = "authkit.principal"
	ticketKey    contextKey = "authkit.ticket"
)

// WithPrincipal returns a context carrying the principal, for tests and
// out-of-band callers.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal attached to the
// request context, or nil.
func PrincipalFromContext(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(principalKey).(*identity.Principal)
	return p
}

// TicketFromContext returns the authentication ticket attached to the request
// context, or nil.
func TicketFromContext(ctx context.Context) *ticket.Ticket {
	t, _ := ctx.Value(ticketKey).(*ticket.Ticket)
	return t
}

// Authenticator authenticates every request against the registry's default
// scheme and attaches the resulting principal and ticket to the context.
// Requests targeting a scheme's callback endpoint are dispatched to that
// scheme and short-circuit the rest of the pipeline. A failed or absent
// authentication leaves the request anonymous; gating is RequireAuth's job.
func Authenticator(registry *authscheme.Registry) func(http.Handler) http.Handler {
	requestHandlers := registry.RequestHandlers()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, rh := range requestHandlers {
				if rh.ShouldHandle(r) && rh.HandleRequest(w, r) {
					return
				}
			}

			scheme, err := registry.ResolveAuthenticate("")
			if err == nil {
				result := scheme.Handler.Authenticate(w, r)
				if result.Succeeded() {
					ctx := WithPrincipal(r.Context(), result.Ticket.Principal)
					ctx = context.WithValue(ctx, ticketKey, result.Ticket)
					r = r.WithContext(ctx)
				} else if !result.NoResult() {
					slog.Debug("request authentication failed",
						"scheme", scheme.Name, "code", errors.GetCode(result.Failure))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth gates a route group: anonymous requests are challenged through
// the named scheme ("" means the default challenge scheme). A scheme that
// cannot challenge, or an API client that prefers JSON, gets a 401 body
// instead of a redirect.
func RequireAuth(registry *authscheme.Registry, scheme string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFromContext(r.Context()).IsAuthenticated() {
				next.ServeHTTP(w, r)
				return
			}
			challenge(registry, scheme, w, r)
		})
	}
}

// RequireClaim gates a route group behind a specific claim, for example a
// role. Anonymous requests are challenged; authenticated requests without the
// claim get 403.
func RequireClaim(registry *authscheme.Registry, scheme, claimType, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if !principal.IsAuthenticated() {
				challenge(registry, scheme, w, r)
				return
			}
			if !principal.HasClaim(claimType, value) {
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func challenge(registry *authscheme.Registry, scheme string, w http.ResponseWriter, r *http.Request) {
	s, err := registry.ResolveChallenge(scheme)
	if err != nil {
		slog.Error("challenge scheme unavailable", "scheme", scheme, "err", err)
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	ch, ok := s.Handler.(authscheme.ChallengeHandler)
	if !ok || wantsJSON(r) {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	props := ticket.NewProperties()
	props.SetRedirectURI(r.URL.RequestURI())
	if err := ch.Challenge(w, r, props); err != nil {
		slog.Error("challenge failed", "scheme", s.Name, "err", err)
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	}
}

// wantsJSON reports whether the client is an API consumer rather than a
// browser, judged by the Accept header. Matches anywhere in the header so
// fetch-style defaults like "application/json, */*" count.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
