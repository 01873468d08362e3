package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authkit/token"
)

// ErrLogoutNotSupported signals that the transport has nothing to say on
// logout. Backends substitute a 204 response.
var ErrLogoutNotSupported = errors.New("transport: logout not supported")

// SideChannel carries credentials issued next to the access token.
type SideChannel struct {
	RefreshToken  string
	RefreshMaxAge time.Duration
}

// Transport extracts and formats credentials.
type Transport interface {
	Name() string
	// Credential returns the raw credential carried by r, if any.
	Credential(r *http.Request) (string, bool)
	LoginResponse(rec *token.AccessToken, side *SideChannel) (*Response, error)
	LogoutResponse() (*Response, error)
}

// Response is a transport-neutral HTTP response.
type Response struct {
	Status  int
	Header  http.Header
	Cookies []*http.Cookie
	// Body is JSON encoded when non-nil.
	Body any
}

// NoContent returns an empty 204 response.
func NoContent() *Response {
	return &Response{Status: http.StatusNoContent}
}

// Write copies the response to w.
func (r *Response) Write(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, c := range r.Cookies {
		http.SetCookie(w, c)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	if r.Body == nil {
		w.WriteHeader(status)
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(r.Body)
}
