package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/middleware"
	"github.com/MrEthical07/authkit/oauth"
	"github.com/MrEthical07/authkit/user"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Options wires the router.
type Options struct {
	Engine *authkit.Engine
	// Credentials backs the password login routes. Without it no login route
	// is mounted and principals arrive only through OAuth.
	Credentials user.CredentialVerifier
	OAuth       []*oauth.Client
	// TrustProxy honors X-Forwarded-For when recording client addresses.
	TrustProxy bool
	Logger     *zap.Logger
}

type api struct {
	engine *authkit.Engine
	creds  user.CredentialVerifier
	logger *zap.Logger
}

var reservedSegments = map[string]struct{}{"renew": {}, "mfa": {}, "oauth": {}}

// NewRouter returns a chi router serving the auth routes.
func NewRouter(opts Options) (chi.Router, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if err := validateOAuth(opts.OAuth); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{engine: opts.Engine, creds: opts.Credentials, logger: logger.Named("httpapi")}
	auth := opts.Engine.Authenticator()
	for _, b := range auth.Backends() {
		if _, ok := reservedSegments[b.Name]; ok {
			return nil, fmt.Errorf("httpapi: backend name %q collides with a shared route", b.Name)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.ClientIP(opts.TrustProxy))
	csrf := middleware.CSRF(auth)

	r.Route("/auth", func(r chi.Router) {
		for _, b := range auth.Backends() {
			name := b.Name
			r.Route("/"+name, func(r chi.Router) {
				if a.creds != nil {
					r.Post("/login", a.login(name))
				}
				r.With(csrf, middleware.Require(auth, authkit.Requirements{Active: true}, onlyBackend(name))).
					Post("/logout", a.logout(name))
			})
		}

		r.With(csrf).Post("/renew", a.renew)

		r.Group(func(r chi.Router) {
			r.Use(csrf, middleware.Require(auth, authkit.Requirements{Active: true}))
			r.Post("/mfa/send", a.sendOTP)
			r.Post("/mfa/validate", a.validateOTP)
		})

		for _, c := range opts.OAuth {
			r.Get("/oauth/"+c.Name+"/authorize", c.Authorize)
			r.Get("/oauth/"+c.Name+"/callback", c.Callback)
		}
	})
	return r, nil
}

func validateOAuth(clients []*oauth.Client) error {
	seen := make(map[string]struct{}, len(clients))
	for _, c := range clients {
		if c == nil || c.Name == "" {
			return errors.New("httpapi: oauth client requires a name")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("httpapi: duplicate oauth provider %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// onlyBackend restricts a decision to the backend named name.
func onlyBackend(name string) authkit.DecisionOption {
	return authkit.WithEnabledBackends("backend:"+name, func(_ *http.Request, backends []*authkit.Backend) []*authkit.Backend {
		for _, b := range backends {
			if b.Name == name {
				return []*authkit.Backend{b}
			}
		}
		return nil
	})
}
