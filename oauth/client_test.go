package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeLinker struct {
	calls     int
	principal *user.Principal
	err       error
	gotToken  string
}

func (l *fakeLinker) Link(_ context.Context, _ string, tok *oauth2.Token) (*user.Principal, error) {
	l.calls++
	l.gotToken = tok.AccessToken
	return l.principal, l.err
}

type fakeLoginer struct {
	logins   []string
	rejected int
	accepted int
}

func (f *fakeLoginer) Login(_ context.Context, backend string, p *user.Principal) (*authkit.LoginResult, error) {
	f.logins = append(f.logins, backend+":"+p.ID)
	return &authkit.LoginResult{
		RefreshToken: "refresh",
		Response: &transport.Response{
			Status: http.StatusOK,
			Body:   map[string]string{"access_token": "issued", "token_type": "bearer"},
		},
	}, nil
}

func (f *fakeLoginer) RecordOAuth(_ string, stateRejected bool) {
	if stateRejected {
		f.rejected++
		return
	}
	f.accepted++
}

type fixture struct {
	client   *Client
	linker   *fakeLinker
	loginer  *fakeLoginer
	exchange atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		linker:  &fakeLinker{principal: &user.Principal{ID: "u1", Email: "u1@example.com", Active: true}},
		loginer: &fakeLoginer{},
	}

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.URL.Path != "/token" || r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.exchange.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"provider-token","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(provider.Close)

	f.client = &Client{
		Name: "github",
		OAuth2: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/auth/oauth/github/callback",
			Scopes:       []string{"read:user"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  provider.URL + "/authorize",
				TokenURL: provider.URL + "/token",
			},
		},
		State:   newTestCodec(t),
		Linker:  f.linker,
		Login:   f.loginer,
		Backend: "bearer",
	}
	return f
}

// authorize runs the authorize step and returns the state sent to the
// provider and the nonce cookie.
func (f *fixture) authorize(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.client.Authorize(rec, httptest.NewRequest(http.MethodGet, "/auth/oauth/github/authorize", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	u, err := url.Parse(body["authorization_url"])
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return u.Query().Get("state"), cookies[0]
}

func (f *fixture) callback(t *testing.T, state, code string, ck *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{"state": {state}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/github/callback?"+q.Encode(), nil)
	if ck != nil {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	f.client.Callback(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["detail"]
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.client.Authorize(rec, httptest.NewRequest(http.MethodGet, "/authorize?scope=user:email", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	u, err := url.Parse(body["authorization_url"])
	require.NoError(t, err)
	require.Equal(t, "client-id", u.Query().Get("client_id"))
	require.Equal(t, "read:user user:email", u.Query().Get("scope"))
	require.NotEmpty(t, u.Query().Get("state"))

	ck := rec.Result().Cookies()[0]
	require.Equal(t, "authkit_oauth_github", ck.Name)
	require.True(t, ck.HttpOnly)
	require.Equal(t, 60, ck.MaxAge)
	require.NoError(t, f.client.State.Verify(u.Query().Get("state"), "github", ck.Value))

	// Extra scopes must not leak into the shared config.
	require.Equal(t, []string{"read:user"}, f.client.OAuth2.Scopes)
}

func TestCallbackSuccess(t *testing.T) {
	f := newFixture(t)
	state, ck := f.authorize(t)

	rec := f.callback(t, state, "good-code", ck)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "issued", body["access_token"])

	require.Equal(t, int32(1), f.exchange.Load())
	require.Equal(t, 1, f.linker.calls)
	require.Equal(t, "provider-token", f.linker.gotToken)
	require.Equal(t, []string{"bearer:u1"}, f.loginer.logins)
	require.Equal(t, 1, f.loginer.accepted)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authkit_oauth_github" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "nonce cookie must be cleared after a verified callback")
}

func TestCallbackCSRFMismatch(t *testing.T) {
	f := newFixture(t)
	state, _ := f.authorize(t)
	_, attackerCookie := f.authorize(t)

	rec := f.callback(t, state, "good-code", attackerCookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidState, detail(t, rec))

	require.Zero(t, f.exchange.Load())
	require.Zero(t, f.linker.calls)
	require.Empty(t, f.loginer.logins)
	require.Equal(t, 1, f.loginer.rejected)
}

func TestCallbackMissingCookie(t *testing.T) {
	f := newFixture(t)
	state, _ := f.authorize(t)

	rec := f.callback(t, state, "good-code", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeInvalidState, detail(t, rec))
	require.Zero(t, f.linker.calls)
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		setup  func(f *fixture)
		status int
		detail string
	}{
		{name: "missing code", code: "", status: http.StatusBadRequest, detail: CodeMissingCode},
		{name: "exchange rejected", code: "bad-code", status: http.StatusBadRequest, detail: CodeExchangeFailed},
		{
			name:   "account conflict",
			code:   "good-code",
			setup:  func(f *fixture) { f.linker.err = ErrAccountConflict },
			status: http.StatusBadRequest,
			detail: CodeUserAlreadyExists,
		},
		{
			name:   "linker failure",
			code:   "good-code",
			setup:  func(f *fixture) { f.linker.err = errors.New("db down") },
			status: http.StatusInternalServerError,
			detail: "INTERNAL_ERROR",
		},
		{
			name:   "inactive principal",
			code:   "good-code",
			setup:  func(f *fixture) { f.linker.principal = &user.Principal{ID: "u2"} },
			status: http.StatusBadRequest,
			detail: CodeBadCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			state, ck := f.authorize(t)

			rec := f.callback(t, state, tt.code, ck)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.detail, detail(t, rec))
			require.Empty(t, f.loginer.logins)
		})
	}
}

func TestCallbackProviderError(t *testing.T) {
	f := newFixture(t)
	state, ck := f.authorize(t)

	q := url.Values{"state": {state}, "error": {"access_denied"}}
	req := httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil)
	req.AddCookie(ck)
	rec := httptest.NewRecorder()
	f.client.Callback(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeProviderError, detail(t, rec))
	require.Zero(t, f.linker.calls)
}
