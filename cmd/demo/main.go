package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/authkit/authkit/pkg/authmw"
	"github.com/authkit/authkit/pkg/authscheme"
	"github.com/authkit/authkit/pkg/cookieauth"
	"github.com/authkit/authkit/pkg/oauth1flow"
	"github.com/authkit/authkit/pkg/oauth2flow/providers"
	"github.com/authkit/authkit/pkg/oidcflow"
	"github.com/authkit/authkit/pkg/oidcflow/azuread"
	"github.com/authkit/authkit/pkg/remote"
	"github.com/authkit/authkit/pkg/ticket"
)

type ServerConfig struct {
	Host string `env:"AUTHKIT_HOST" env-default:"localhost"`
	Port uint16 `env:"AUTHKIT_PORT" env-default:"4000"`

	// BaseURL is the external base URL registered with the providers, for
	// deployments behind a proxy. Empty means derive it per request.
	BaseURL string `env:"AUTHKIT_BASE_URL"`

	// MasterKey protects session tickets and handshake state, hex encoded.
	// Empty generates an ephemeral key, which invalidates sessions on
	// restart.
	MasterKey string `env:"AUTHKIT_MASTER_KEY"`
}

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
}

type MicrosoftConfig struct {
	ClientID     string `env:"MICROSOFT_CLIENT_ID"`
	ClientSecret string `env:"MICROSOFT_CLIENT_SECRET"`
}

type TwitterConfig struct {
	ConsumerKey    string `env:"TWITTER_CONSUMER_KEY"`
	ConsumerSecret string `env:"TWITTER_CONSUMER_SECRET"`
}

type AzureADConfig struct {
	Tenant       string `env:"AZUREAD_TENANT" env-default:"common"`
	ClientID     string `env:"AZUREAD_CLIENT_ID"`
	ClientSecret string `env:"AZUREAD_CLIENT_SECRET"`
}

type OIDCConfig struct {
	Authority    string `env:"OIDC_AUTHORITY"`
	ClientID     string `env:"OIDC_CLIENT_ID"`
	ClientSecret string `env:"OIDC_CLIENT_SECRET"`
}

type Config struct {
	Server    ServerConfig
	Google    GoogleConfig
	Microsoft MicrosoftConfig
	Twitter   TwitterConfig
	AzureAD   AzureADConfig
	OIDC      OIDCConfig
}

const sessionScheme = "cookies"

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("failed to read configuration", "err", err)
		os.Exit(1)
	}

	masterKey, err := loadMasterKey(cfg.Server.MasterKey)
	if err != nil {
		slog.Error("invalid master key", "err", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, masterKey)
	if err != nil {
		slog.Error("failed to configure authentication", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(authmw.Authenticator(registry))

	r.Get("/", home(registry))
	r.Get("/login/{provider}", login(registry))
	r.Get("/logout", logout(registry))

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(registry, ""))
		r.Get("/me", me)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("demo server listening", "addr", addr, "schemes", registry.Names())
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func loadMasterKey(encoded string) ([]byte, error) {
	if encoded == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		slog.Warn("AUTHKIT_MASTER_KEY not set, using an ephemeral key; sessions will not survive a restart")
		return key, nil
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex encoded: %w", err)
	}
	return key, nil
}

// buildRegistry assembles the scheme registry: the cookie session scheme plus
// every remote provider with credentials present in the environment.
func buildRegistry(cfg Config, masterKey []byte) (*authscheme.Registry, error) {
	registry := authscheme.NewRegistry()

	ticketFormat, err := cookieauth.NewTicketFormat(masterKey, sessionScheme)
	if err != nil {
		return nil, err
	}
	sessions, err := cookieauth.New(sessionScheme, cookieauth.Config{LoginPath: "/"}, ticketFormat)
	if err != nil {
		return nil, err
	}
	if err := registry.Add(&authscheme.Scheme{Name: sessionScheme, DisplayName: "Session", Handler: sessions}); err != nil {
		return nil, err
	}

	engineOpts := func() []remote.Option {
		opts := []remote.Option{
			remote.WithSignIn(registry, sessionScheme),
			remote.WithSaveTokens(),
		}
		if cfg.Server.BaseURL != "" {
			opts = append(opts, remote.WithBaseURL(cfg.Server.BaseURL))
		}
		return opts
	}

	if cfg.Google.ClientID != "" {
		flow, err := providers.Google(cfg.Google.ClientID, cfg.Google.ClientSecret)
		if err != nil {
			return nil, err
		}
		if err := addEngine(registry, "google", "Google", flow, masterKey, engineOpts()); err != nil {
			return nil, err
		}
	}

	if cfg.Microsoft.ClientID != "" {
		flow, err := providers.Microsoft(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret)
		if err != nil {
			return nil, err
		}
		if err := addEngine(registry, "microsoft", "Microsoft", flow, masterKey, engineOpts()); err != nil {
			return nil, err
		}
	}

	if cfg.AzureAD.ClientID != "" {
		flow, err := azuread.New(azuread.Config{
			Tenant:       cfg.AzureAD.Tenant,
			ClientID:     cfg.AzureAD.ClientID,
			ClientSecret: cfg.AzureAD.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		if err := addEngine(registry, "azuread", "Azure AD", flow, masterKey, engineOpts()); err != nil {
			return nil, err
		}
	}

	if cfg.OIDC.Authority != "" {
		flow, err := oidcflow.New("oidc", oidcflow.Config{
			Authority:    cfg.OIDC.Authority,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		if err := addEngine(registry, "oidc", "OpenID Connect", flow, masterKey, engineOpts()); err != nil {
			return nil, err
		}
	}

	if cfg.Twitter.ConsumerKey != "" {
		tokenFormat, err := oauth1flow.NewRequestTokenFormat(masterKey, "twitter")
		if err != nil {
			return nil, err
		}
		twitterOpts := []oauth1flow.Option{
			oauth1flow.WithSignIn(registry, sessionScheme),
			oauth1flow.WithSaveTokens(),
		}
		if cfg.Server.BaseURL != "" {
			twitterOpts = append(twitterOpts, oauth1flow.WithBaseURL(cfg.Server.BaseURL))
		}
		handler, err := oauth1flow.New("twitter", oauth1flow.Config{
			ConsumerKey:    cfg.Twitter.ConsumerKey,
			ConsumerSecret: cfg.Twitter.ConsumerSecret,
			CallbackPath:   "/signin-twitter",
		}, tokenFormat, twitterOpts...)
		if err != nil {
			return nil, err
		}
		if err := registry.Add(&authscheme.Scheme{Name: "twitter", DisplayName: "Twitter", Handler: handler}); err != nil {
			return nil, err
		}
	}

	if err := registry.SetDefaults(authscheme.Defaults{
		Authenticate: sessionScheme,
		SignIn:       sessionScheme,
		SignOut:      sessionScheme,
	}); err != nil {
		return nil, err
	}
	return registry, nil
}

func addEngine(registry *authscheme.Registry, name, display string, flow remote.Flow, masterKey []byte, opts []remote.Option) error {
	stateFormat, err := remote.NewStateFormat(masterKey, "RemoteAuthenticationHandler", name)
	if err != nil {
		return err
	}
	engine, err := remote.NewEngine(name, "/signin-"+name, flow, stateFormat, opts...)
	if err != nil {
		return err
	}
	return registry.Add(&authscheme.Scheme{Name: name, DisplayName: display, Handler: engine})
}

func home(registry *authscheme.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := authmw.PrincipalFromContext(r.Context())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if principal.IsAuthenticated() {
			fmt.Fprintf(w, "<p>Signed in as <b>%s</b>. <a href=\"/me\">Claims</a> | <a href=\"/logout\">Sign out</a></p>", principal.Name())
			return
		}
		fmt.Fprint(w, "<p>Not signed in.</p><ul>")
		for _, name := range registry.Names() {
			if name == sessionScheme {
				continue
			}
			fmt.Fprintf(w, "<li><a href=\"/login/%s\">Sign in with %s</a></li>", name, name)
		}
		fmt.Fprint(w, "</ul>")
	}
}

func login(registry *authscheme.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		scheme, err := registry.ResolveChallenge(provider)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		ch, ok := scheme.Handler.(authscheme.ChallengeHandler)
		if !ok {
			http.NotFound(w, r)
			return
		}
		props := ticket.NewProperties()
		props.SetRedirectURI("/")
		if err := ch.Challenge(w, r, props); err != nil {
			slog.Error("challenge failed", "scheme", scheme.Name, "err", err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
		}
	}
}

func logout(registry *authscheme.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme, err := registry.ResolveSignOut("")
		if err == nil {
			if so, ok := scheme.Handler.(authscheme.SignOutHandler); ok {
				_ = so.SignOut(w, r, nil)
			}
		}
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

func me(w http.ResponseWriter, r *http.Request) {
	principal := authmw.PrincipalFromContext(r.Context())
	type claim struct {
		Type   string `json:"type"`
		Value  string `json:"value"`
		Issuer string `json:"issuer"`
	}
	var out struct {
		Name   string  `json:"name"`
		Scheme string  `json:"scheme"`
		Claims []claim `json:"claims"`
	}
	out.Name = principal.Name()
	if t := authmw.TicketFromContext(r.Context()); t != nil {
		out.Scheme = t.Scheme
	}
	for _, id := range principal.Identities {
		for _, c := range id.Claims {
			out.Claims = append(out.Claims, claim{Type: c.Type, Value: c.Value, Issuer: c.Issuer})
		}
	}
	render.JSON(w, r, out)
}
