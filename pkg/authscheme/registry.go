package authscheme

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/authkit/authkit/pkg/errors"
)

// Defaults names the schemes used when a caller does not specify one
// explicitly. Any empty field falls back to Authenticate.
type Defaults struct {
	Authenticate string
	Challenge    string
	SignIn       string
	SignOut      string
}

// Registry maps scheme names to their configured handlers and resolves the
// default scheme for each operation. Build it during setup; it is read-only
// and safe for concurrent use afterwards.
type Registry struct {
	schemes  map[string]*Scheme
	defaults Defaults
}

// NewRegistry creates an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{schemes: make(map[string]*Scheme)}
}

// Add registers a scheme. Names are unique: registering a second scheme under
// an existing name is a configuration error.
func (r *Registry) Add(s *Scheme) error {
	if s == nil || s.Name == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "scheme name is required")
	}
	if s.Handler == nil {
		return errors.Newf(errors.ErrCodeConfigInvalid, "scheme %q has no handler", s.Name)
	}
	if _, exists := r.schemes[s.Name]; exists {
		return errors.Newf(errors.ErrCodeSchemeDuplicate, "scheme already registered: %s", s.Name)
	}
	r.schemes[s.Name] = s
	return nil
}

// SetDefaults records the default scheme names. Every named scheme must
// already be registered.
func (r *Registry) SetDefaults(d Defaults) error {
	for _, name := range []string{d.Authenticate, d.Challenge, d.SignIn, d.SignOut} {
		if name == "" {
			continue
		}
		if _, err := r.Get(name); err != nil {
			return err
		}
	}
	r.defaults = d
	return nil
}

// Get returns the scheme registered under name.
func (r *Registry) Get(name string) (*Scheme, error) {
	s, ok := r.schemes[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSchemeUnknown, "unknown authentication scheme: %s", name)
	}
	return s, nil
}

// Names returns all registered scheme names, sorted.
func (r *Registry) Names() []string {
	names := maps.Keys(r.schemes)
	sort.Strings(names)
	return names
}

// ResolveAuthenticate returns the scheme for an authenticate call: the named
// scheme, or the default authenticate scheme.
func (r *Registry) ResolveAuthenticate(name string) (*Scheme, error) {
	return r.resolve(name, r.defaults.Authenticate)
}

// ResolveChallenge returns the scheme for a challenge call.
func (r *Registry) ResolveChallenge(name string) (*Scheme, error) {
	return r.resolve(name, r.defaults.Challenge)
}

// ResolveSignIn returns the scheme for a sign-in call.
func (r *Registry) ResolveSignIn(name string) (*Scheme, error) {
	return r.resolve(name, r.defaults.SignIn)
}

// ResolveSignOut returns the scheme for a sign-out call.
func (r *Registry) ResolveSignOut(name string) (*Scheme, error) {
	return r.resolve(name, r.defaults.SignOut)
}

func (r *Registry) resolve(name, kindDefault string) (*Scheme, error) {
	switch {
	case name != "":
		return r.Get(name)
	case kindDefault != "":
		return r.Get(kindDefault)
	case r.defaults.Authenticate != "":
		return r.Get(r.defaults.Authenticate)
	}
	return nil, errors.New(errors.ErrCodeSchemeUnknown, "no default authentication scheme configured")
}

// RequestHandlers returns all registered schemes whose handlers intercept
// request paths, in name order.
func (r *Registry) RequestHandlers() []RequestHandler {
	var handlers []RequestHandler
	for _, name := range r.Names() {
		if rh, ok := r.schemes[name].Handler.(RequestHandler); ok {
			handlers = append(handlers, rh)
		}
	}
	return handlers
}
