package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Error codes written in the {"detail": ...} body of a failed callback.
const (
	CodeInvalidState      = "OAUTH_INVALID_STATE"
	CodeMissingCode       = "OAUTH_MISSING_CODE"
	CodeProviderError     = "OAUTH_PROVIDER_ERROR"
	CodeExchangeFailed    = "OAUTH_EXCHANGE_FAILED"
	CodeUserAlreadyExists = "OAUTH_USER_ALREADY_EXISTS"
	CodeBadCredentials    = "LOGIN_BAD_CREDENTIALS"
)

// ErrAccountConflict is returned by an [AccountLinker] when the provider
// account maps onto an existing user that must not be linked automatically.
var ErrAccountConflict = errors.New("oauth: account already exists")

// AccountLinker finds or creates the local principal for a provider account.
type AccountLinker interface {
	Link(ctx context.Context, provider string, tok *oauth2.Token) (*user.Principal, error)
}

// Loginer issues credentials for a linked principal. *authkit.Engine
// satisfies it.
type Loginer interface {
	Login(ctx context.Context, backend string, p *user.Principal) (*authkit.LoginResult, error)
}

// outcomeRecorder is implemented by *authkit.Engine.
type outcomeRecorder interface {
	RecordOAuth(provider string, stateRejected bool)
}

// Client runs the authorization-code flow for one provider.
type Client struct {
	// Name identifies the provider in routes, state tokens and cookies.
	Name   string
	OAuth2 *oauth2.Config
	State  *StateCodec
	Linker AccountLinker
	Login  Loginer
	// Backend is the authkit backend that renders the login response.
	Backend string
	// CookieSecure marks the nonce cookie Secure. Enable it behind TLS.
	CookieSecure bool
	Logger       *zap.Logger
}

func (c *Client) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// CookieName is the name of the nonce cookie for this provider.
func (c *Client) CookieName() string {
	return "authkit_oauth_" + c.Name
}

func (c *Client) record(stateRejected bool) {
	if r, ok := c.Login.(outcomeRecorder); ok {
		r.RecordOAuth(c.Name, stateRejected)
	}
}

// Authorize issues a state and nonce cookie and answers
// {"authorization_url": ...}. Extra query values named "scope" are passed to
// the provider as additional scopes.
func (c *Client) Authorize(w http.ResponseWriter, r *http.Request) {
	state, nonce, err := c.State.Issue(c.Name)
	if err != nil {
		c.log().Error("issue oauth state", zap.String("provider", c.Name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "INTERNAL_ERROR"})
		return
	}

	cfg := *c.OAuth2
	if extra := r.URL.Query()["scope"]; len(extra) > 0 {
		cfg.Scopes = append(append([]string(nil), cfg.Scopes...), extra...)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName(),
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(c.State.TTL().Seconds()),
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": cfg.AuthCodeURL(state),
	})
}

// Callback verifies the state against the nonce cookie, exchanges the code,
// links the account and logs the principal in through the configured backend.
func (c *Client) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var nonce string
	if ck, err := r.Cookie(c.CookieName()); err == nil {
		nonce = ck.Value
	}
	if err := c.State.Verify(q.Get("state"), c.Name, nonce); err != nil {
		c.record(true)
		c.log().Info("oauth state rejected", zap.String("provider", c.Name), zap.Error(err))
		writeDetail(w, http.StatusBadRequest, CodeInvalidState)
		return
	}
	c.clearCookie(w)

	if perr := q.Get("error"); perr != "" {
		c.log().Info("oauth provider error", zap.String("provider", c.Name), zap.String("error", perr))
		writeDetail(w, http.StatusBadRequest, CodeProviderError)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeDetail(w, http.StatusBadRequest, CodeMissingCode)
		return
	}

	tok, err := c.OAuth2.Exchange(ctx, code)
	if err != nil {
		c.log().Warn("oauth code exchange failed", zap.String("provider", c.Name), zap.Error(err))
		writeDetail(w, http.StatusBadRequest, CodeExchangeFailed)
		return
	}

	p, err := c.Linker.Link(ctx, c.Name, tok)
	switch {
	case errors.Is(err, ErrAccountConflict):
		writeDetail(w, http.StatusBadRequest, CodeUserAlreadyExists)
		return
	case err != nil:
		c.log().Error("oauth account link failed", zap.String("provider", c.Name), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	case p == nil || !p.Active:
		writeDetail(w, http.StatusBadRequest, CodeBadCredentials)
		return
	}

	res, err := c.Login.Login(ctx, c.Backend, p)
	if err != nil {
		c.log().Error("oauth login failed", zap.String("provider", c.Name), zap.String("user_id", p.ID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	c.record(false)
	if err := res.Response.Write(w); err != nil {
		c.log().Warn("write oauth login response", zap.Error(err))
	}
}

func (c *Client) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeDetail(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"detail": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
