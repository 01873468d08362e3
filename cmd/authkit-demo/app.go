package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/httpapi"
	authjwt "github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/metrics/export/prometheus"
	"github.com/MrEthical07/authkit/oauth"
	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/password"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// app is a fully wired demo server.
type app struct {
	engine    *authkit.Engine
	users     *user.MapProvider
	directory *password.Directory
	handler   http.Handler
	close     func()
}

func buildApp(ctx context.Context, cfg demoConfig, logger *zap.Logger) (*app, error) {
	opened, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a, err := wire(cfg, opened, logger)
	if err != nil {
		opened.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg demoConfig, opened *openedStore, logger *zap.Logger) (*app, error) {
	users := user.NewMapProvider()
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}
	dir, err := password.NewDirectory(hasher, users, logger)
	if err != nil {
		return nil, err
	}
	if err := seedUsers(users, dir, cfg.Users); err != nil {
		return nil, err
	}

	db := strategy.NewDatabase(opened.store, users, cfg.Engine.Access.Lifetime)
	cookie, err := transport.NewCookie(cfg.Cookie)
	if err != nil {
		return nil, err
	}
	backends := []*authkit.Backend{
		authkit.NewBackend("bearer", transport.NewBearer(), authkit.StaticStrategy(db)),
		authkit.NewBackend("cookie", cookie, authkit.StaticStrategy(db)),
	}

	var signer *authjwt.Manager
	if cfg.JWT.Secret != "" {
		signer, err = authjwt.NewManager(authjwt.Config{
			SigningMethod: authjwt.MethodHS256,
			PrivateKey:    []byte(cfg.JWT.Secret),
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			return nil, err
		}
		stateless, err := strategy.NewJWT(strategy.JWTConfig{
			Manager:  signer,
			Users:    users,
			Lifetime: cfg.Engine.Access.Lifetime,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, authkit.NewBackend("jwt", transport.NewBearer(), authkit.StaticStrategy(stateless)))
	}

	b := authkit.New().
		WithConfig(cfg.Engine).
		WithStore(opened.store).
		WithBackends(backends...).
		WithLogger(logger).
		WithNotifier(logNotifier(logger)).
		WithAuditSink(authkit.NewZapSink(logger.Named("audit")))
	if opened.limiter != nil {
		b = b.WithAttemptLimiter(opened.limiter)
	}
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}

	clients, err := oauthClients(cfg, engine, signer, users, logger)
	if err != nil {
		engine.Close()
		return nil, err
	}

	api, err := httpapi.NewRouter(httpapi.Options{
		Engine:      engine,
		Credentials: dir,
		OAuth:       clients,
		TrustProxy:  cfg.TrustProxy,
		Logger:      logger,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}

	metrics, err := prometheus.RegistryHandler(prometheus.NewCollector(engine))
	if err != nil {
		engine.Close()
		return nil, err
	}

	r := chi.NewRouter()
	r.Mount("/", api)
	r.Handle("/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return &app{
		engine:    engine,
		users:     users,
		directory: dir,
		handler:   r,
		close: func() {
			engine.Close()
			opened.close()
		},
	}, nil
}

// logNotifier stands in for an email or SMS gateway. Codes are never logged;
// only the fact of a delivery is.
func logNotifier(logger *zap.Logger) otp.Notifier {
	l := logger.Named("notifier")
	return otp.NotifierFunc(func(_ context.Context, d otp.Delivery) error {
		l.Info("code delivered", zap.String("user_id", d.UserID), zap.String("factor", d.Factor), zap.Time("expires_at", d.ExpiresAt))
		return nil
	})
}

func oauthClients(cfg demoConfig, engine *authkit.Engine, signer *authjwt.Manager, users *user.MapProvider, logger *zap.Logger) ([]*oauth.Client, error) {
	if len(cfg.OAuth) == 0 {
		return nil, nil
	}
	if signer == nil {
		return nil, errors.New("oauth requires a jwt secret")
	}
	codec, err := oauth.NewStateCodec(signer, oauth.DefaultStateTTL)
	if err != nil {
		return nil, err
	}
	linker := newUserInfoLinker(users, cfg.Users, logger)

	clients := make([]*oauth.Client, 0, len(cfg.OAuth))
	for _, p := range cfg.OAuth {
		oc := &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  p.AuthURL,
				TokenURL: p.TokenURL,
			},
		}
		linker.register(p.Name, oc, p.UserInfoURL)
		backend := p.Backend
		if backend == "" {
			backend = "cookie"
		}
		if _, ok := engine.Backend(backend); !ok {
			return nil, errors.New("oauth " + p.Name + ": unknown backend " + backend)
		}
		clients = append(clients, &oauth.Client{
			Name:         p.Name,
			OAuth2:       oc,
			State:        codec,
			Linker:       linker,
			Login:        engine,
			Backend:      backend,
			CookieSecure: cfg.Cookie.Secure,
			Logger:       logger.Named("oauth"),
		})
	}
	return clients, nil
}
