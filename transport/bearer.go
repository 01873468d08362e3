package transport

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/authkit/token"
)

// BearerResponse is the login body of the bearer transport.
type BearerResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Bearer reads "Authorization: Bearer <token>" and returns tokens in the body.
type Bearer struct{}

var _ Transport = Bearer{}

// NewBearer returns the bearer transport. It has no configuration.
func NewBearer() Bearer { return Bearer{} }

func (Bearer) Name() string { return "bearer" }

func (Bearer) Credential(r *http.Request) (string, bool) {
	return BearerToken(r.Header.Get("Authorization"))
}

func (Bearer) LoginResponse(rec *token.AccessToken, side *SideChannel) (*Response, error) {
	body := BearerResponse{AccessToken: rec.Token, TokenType: "bearer"}
	if side != nil {
		body.RefreshToken = side.RefreshToken
	}
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Cache-Control": []string{"no-store"}},
		Body:   body,
	}, nil
}

// LogoutResponse always returns ErrLogoutNotSupported; clients drop the token.
func (Bearer) LogoutResponse() (*Response, error) {
	return nil, ErrLogoutNotSupported
}

// BearerToken parses an Authorization header value. The scheme is case
// insensitive.
func BearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}
	return tok, true
}
