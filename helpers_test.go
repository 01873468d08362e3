package authkit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	authjwt "github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/store/memory"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
)

type codeNotifier struct {
	mu   sync.Mutex
	sent []otp.Delivery
}

func (n *codeNotifier) Notify(_ context.Context, d otp.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, d)
	return nil
}

func (n *codeNotifier) last(t *testing.T) otp.Delivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no code delivered")
	}
	return n.sent[len(n.sent)-1]
}

type testEnv struct {
	engine   *Engine
	store    *memory.Store
	users    *user.MapProvider
	notifier *codeNotifier
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	return cfg
}

func testUsers() *user.MapProvider {
	return user.NewMapProvider(
		user.Principal{ID: "u1", Email: "alice@example.com", Active: true, Verified: true},
		user.Principal{ID: "u2", Email: "bob@example.com", Active: true},
		user.Principal{ID: "u3", Email: "carol@example.com"},
		user.Principal{ID: "admin", Email: "root@example.com", Active: true, Verified: true, Superuser: true},
	)
}

func newJWTStrategy(t *testing.T, users user.Provider, lifetime time.Duration) *strategy.JWT {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m, err := authjwt.NewManager(authjwt.Config{PrivateKey: priv, PublicKey: pub, Issuer: "authkit-test"})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	s, err := strategy.NewJWT(strategy.JWTConfig{Manager: m, Users: users, Lifetime: lifetime})
	if err != nil {
		t.Fatalf("jwt strategy: %v", err)
	}
	return s
}

// newTestEnv builds an engine with a "db" bearer backend over the memory
// store and a "jwt" bearer backend.
func newTestEnv(t *testing.T, cfg Config, extra ...func(*Builder)) *testEnv {
	t.Helper()

	store := memory.New()
	users := testUsers()
	notifier := &codeNotifier{}

	db := NewBackend("db", transport.NewBearer(),
		StaticStrategy(strategy.NewDatabase(store, users, cfg.Access.Lifetime)))
	stateless := NewBackend("jwt", transport.NewBearer(),
		StaticStrategy(newJWTStrategy(t, users, cfg.Access.Lifetime)))

	b := New().
		WithConfig(cfg).
		WithStore(store).
		WithBackends(db, stateless).
		WithNotifier(notifier)
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, users: users, notifier: notifier}
}

func bearerRequest(raw string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if raw != "" {
		r.Header.Set("Authorization", "Bearer "+raw)
	}
	return r
}

func principal(t *testing.T, users user.Provider, id string) *user.Principal {
	t.Helper()
	p, err := users.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return p
}
