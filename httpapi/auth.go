package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or an urlencoded form with username and
// password fields.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	if isJSON(r) {
		err := readJSON(w, r, &c)
		return c, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.PostForm.Get("username")
	c.Password = r.PostForm.Get("password")
	return c, nil
}

func (a *api) login(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, err := readCredentials(w, r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, CodeInvalidBody)
			return
		}
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			writeDetail(w, http.StatusBadRequest, CodeBadCredentials)
			return
		}

		p, err := a.creds.Verify(ctx, c.Username, c.Password)
		switch {
		case errors.Is(err, user.ErrInvalidCredentials), errors.Is(err, user.ErrNotFound):
			writeDetail(w, http.StatusBadRequest, CodeBadCredentials)
			return
		case err != nil:
			a.logger.Error("credential check failed", zap.String("backend", backend), zap.Error(err))
			writeDetail(w, http.StatusInternalServerError, CodeInternal)
			return
		case p == nil || !p.Active:
			writeDetail(w, http.StatusBadRequest, CodeBadCredentials)
			return
		}

		res, err := a.engine.Login(ctx, backend, p)
		if err != nil {
			a.logger.Error("login failed", zap.String("backend", backend), zap.String("user_id", p.ID), zap.Error(err))
			writeDetail(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		if err := res.Response.Write(w); err != nil {
			a.logger.Warn("write login response", zap.Error(err))
		}
	}
}

func (a *api) logout(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, _ := authkit.DecisionFromContext(r.Context())
		resp, err := a.engine.Logout(r.Context(), backend, d.Token)
		if err != nil {
			a.logger.Error("logout failed", zap.String("backend", backend), zap.Error(err))
			writeDetail(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		if err := resp.Write(w); err != nil {
			a.logger.Warn("write logout response", zap.Error(err))
		}
	}
}

type renewRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type renewResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// renew takes the refresh token from the JSON body, or from the refresh
// cookie of a cookie backend when the body has none.
func (a *api) renew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if r.ContentLength != 0 && isJSON(r) {
		if err := readJSON(w, r, &req); err != nil {
			writeDetail(w, http.StatusBadRequest, CodeInvalidBody)
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken = a.refreshCookie(r)
	}

	res, err := a.engine.Renew(r.Context(), r, req.RefreshToken)
	switch {
	case errors.Is(err, authkit.ErrWrongRefreshToken), errors.Is(err, authkit.ErrWrongAccessToken):
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("renew failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, CodeInternal)
		return
	}

	writeJSON(w, http.StatusOK, renewResponse{
		AccessToken:  res.Access.Token,
		TokenType:    "bearer",
		RefreshToken: res.RefreshToken,
	})
}

func (a *api) refreshCookie(r *http.Request) string {
	for _, b := range a.engine.Authenticator().Backends() {
		c, ok := b.Transport.(*transport.Cookie)
		if !ok {
			continue
		}
		if raw, ok := c.RefreshCredential(r); ok {
			return raw
		}
	}
	return ""
}
