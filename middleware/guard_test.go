package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/store/memory"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"github.com/stretchr/testify/require"
)

type guardEnv struct {
	auth     *authkit.Authenticator
	strategy *strategy.Database
	users    *user.MapProvider
}

func newGuardEnv(t *testing.T) *guardEnv {
	t.Helper()
	users := user.NewMapProvider(
		user.Principal{ID: "active", Active: true},
		user.Principal{ID: "inactive"},
		user.Principal{ID: "root", Active: true, Superuser: true},
	)
	s := strategy.NewDatabase(memory.New(), users, time.Hour)
	auth, err := authkit.NewAuthenticator([]*authkit.Backend{
		authkit.NewBackend("db", transport.NewBearer(), authkit.StaticStrategy(s)),
	}, nil)
	require.NoError(t, err)
	return &guardEnv{auth: auth, strategy: s, users: users}
}

func (e *guardEnv) token(t *testing.T, id string, scope token.Scope) string {
	t.Helper()
	p, err := e.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	mfa := token.NewMFAScopes([]string{"email"})
	if scope.IsApproved() {
		mfa = mfa.Approve("email")
	}
	rec, err := e.strategy.WriteToken(context.Background(), p, strategy.WithScopes(scope, mfa))
	require.NoError(t, err)
	return rec.Token
}

// echo reports the principal the guard stored in the context.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	d, ok := authkit.DecisionFromContext(r.Context())
	if !ok {
		http.Error(w, "no decision", http.StatusInternalServerError)
		return
	}
	id := "anonymous"
	if !d.Anonymous() {
		id = d.Principal.ID
	}
	_, _ = w.Write([]byte(id))
})

func serve(h http.Handler, raw string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if raw != "" {
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["detail"]
}

func TestRequire(t *testing.T) {
	env := newGuardEnv(t)
	approved := env.token(t, "active", token.Approved)
	pending := env.token(t, "active", token.None)
	inactive := env.token(t, "inactive", token.Approved)
	root := env.token(t, "root", token.Approved)

	tests := []struct {
		name   string
		guard  func(*authkit.Authenticator) func(http.Handler) http.Handler
		raw    string
		status int
		body   string
		reason string
	}{
		{name: "no credential", guard: RequireActive, status: http.StatusUnauthorized, reason: "no-user"},
		{name: "unknown token", guard: RequireActive, raw: "bogus", status: http.StatusUnauthorized, reason: "no-user"},
		{name: "active", guard: RequireActive, raw: pending, status: http.StatusOK, body: "active"},
		{name: "inactive", guard: RequireActive, raw: inactive, status: http.StatusUnauthorized, reason: "no-active"},
		{name: "pending mfa", guard: RequireApproved, raw: pending, status: http.StatusUnauthorized, reason: "no-user"},
		{name: "approved", guard: RequireApproved, raw: approved, status: http.StatusOK, body: "active"},
		{name: "not superuser", guard: RequireSuperuser, raw: approved, status: http.StatusForbidden, reason: "no-permissions"},
		{name: "superuser", guard: RequireSuperuser, raw: root, status: http.StatusOK, body: "root"},
		{name: "optional anonymous", guard: Optional, status: http.StatusOK, body: "anonymous"},
		{name: "optional resolved", guard: Optional, raw: pending, status: http.StatusOK, body: "active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.guard(env.auth)(echo), tt.raw)
			require.Equal(t, tt.status, rec.Code)
			if tt.reason != "" {
				require.Equal(t, tt.reason, reason(t, rec))
				return
			}
			require.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestRejectionHeaders(t *testing.T) {
	env := newGuardEnv(t)
	h := RequireActive(env.auth)(echo)

	rec := serve(h, "")
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	forbidden := serve(RequireSuperuser(env.auth)(echo), env.token(t, "active", token.Approved))
	require.Equal(t, http.StatusForbidden, forbidden.Code)
	require.Empty(t, forbidden.Header().Get("WWW-Authenticate"))
}

func TestRequireWithEnabledBackends(t *testing.T) {
	env := newGuardEnv(t)
	raw := env.token(t, "active", token.Approved)

	none := authkit.WithEnabledBackends("none", func(*http.Request, []*authkit.Backend) []*authkit.Backend {
		return nil
	})
	h := Require(env.auth, authkit.Requirements{Active: true}, none)(echo)

	rec := serve(h, raw)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "no-user", reason(t, rec))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", want: "192.0.2.1"},
		{name: "ignores proxy headers", headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}, want: "192.0.2.1"},
		{name: "forwarded for", trustProxy: true, headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, want: "203.0.113.9"},
		{name: "real ip", trustProxy: true, headers: map[string]string{"X-Real-IP": "203.0.113.7"}, want: "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:4321"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, RemoteIP(req, tt.trustProxy))

			var called bool
			ClientIP(tt.trustProxy)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			})).ServeHTTP(httptest.NewRecorder(), req)
			require.True(t, called)
		})
	}
}
