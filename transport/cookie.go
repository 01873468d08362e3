package transport

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authkit/token"
)

// CookieConfig configures a [Cookie] transport.
type CookieConfig struct {
	Name     string        `yaml:"name"`
	MaxAge   time.Duration `yaml:"max_age"`
	Path     string        `yaml:"path"`
	Domain   string        `yaml:"domain"`
	Secure   bool          `yaml:"secure"`
	HTTPOnly bool          `yaml:"http_only"`
	SameSite string        `yaml:"same_site"`
	// RefreshName is the cookie that carries the refresh token, if one is issued.
	RefreshName string `yaml:"refresh_name"`
	// RefreshPath scopes the refresh cookie, typically to the renew route.
	RefreshPath string `yaml:"refresh_path"`
	// CSRFName is a script-readable cookie holding a double-submit token.
	// Unsafe requests that carry the access or refresh cookie must echo it
	// in CSRFHeader. Empty disables the check, which SameSite=None forbids.
	CSRFName   string `yaml:"csrf_name"`
	CSRFHeader string `yaml:"csrf_header"`
}

// ErrCSRF is returned by [Cookie.CheckCSRF] when the double-submit token is
// missing or does not match.
var ErrCSRF = errors.New("transport: csrf token missing or mismatched")

// DefaultCookieConfig mirrors common browser-session defaults.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:        "authkit",
		MaxAge:      time.Hour,
		Path:        "/",
		Secure:      true,
		HTTPOnly:    true,
		SameSite:    "lax",
		RefreshName: "authkit_refresh",
		RefreshPath: "/",
		CSRFName:    "authkit_csrf",
		CSRFHeader:  "X-CSRF-Token",
	}
}

// Cookie carries the access token in a cookie.
type Cookie struct {
	cfg      CookieConfig
	sameSite http.SameSite
}

var _ Transport = (*Cookie)(nil)

// NewCookie validates cfg and returns a cookie transport.
func NewCookie(cfg CookieConfig) (*Cookie, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("transport: cookie name is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, errors.New("transport: cookie max age must be > 0")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = cfg.Path
	}
	ss, err := ParseSameSite(cfg.SameSite)
	if err != nil {
		return nil, err
	}
	if ss == http.SameSiteNoneMode && !cfg.Secure {
		return nil, errors.New("transport: SameSite=None requires Secure")
	}
	if ss == http.SameSiteNoneMode && cfg.CSRFName == "" {
		return nil, errors.New("transport: SameSite=None requires a CSRF cookie")
	}
	if cfg.CSRFName != "" && cfg.CSRFHeader == "" {
		cfg.CSRFHeader = "X-CSRF-Token"
	}
	return &Cookie{cfg: cfg, sameSite: ss}, nil
}

func (c *Cookie) Name() string { return "cookie" }

// CookieName returns the access-token cookie name.
func (c *Cookie) CookieName() string { return c.cfg.Name }

// RefreshCookieName returns the refresh-token cookie name.
func (c *Cookie) RefreshCookieName() string { return c.cfg.RefreshName }

func (c *Cookie) Credential(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.cfg.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// RefreshCredential returns the refresh token cookie, if any.
func (c *Cookie) RefreshCredential(r *http.Request) (string, bool) {
	if c.cfg.RefreshName == "" {
		return "", false
	}
	ck, err := r.Cookie(c.cfg.RefreshName)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// LoginResponse sets the access cookie, the refresh cookie when one was
// issued, and a fresh CSRF token that lives as long as the longer of the two.
func (c *Cookie) LoginResponse(rec *token.AccessToken, side *SideChannel) (*Response, error) {
	resp := &Response{
		Status:  http.StatusNoContent,
		Cookies: []*http.Cookie{c.build(c.cfg.Name, rec.Token, c.cfg.Path, c.cfg.MaxAge)},
	}
	maxAge := c.cfg.MaxAge
	if side != nil && side.RefreshToken != "" && c.cfg.RefreshName != "" {
		resp.Cookies = append(resp.Cookies, c.build(c.cfg.RefreshName, side.RefreshToken, c.cfg.RefreshPath, side.RefreshMaxAge))
		if side.RefreshMaxAge > maxAge {
			maxAge = side.RefreshMaxAge
		}
	}
	if c.cfg.CSRFName != "" {
		csrf, err := token.Generate(token.DefaultTokenBytes)
		if err != nil {
			return nil, err
		}
		resp.Cookies = append(resp.Cookies, c.csrfCookie(csrf, maxAge))
	}
	return resp, nil
}

// CheckCSRF enforces the double-submit token on unsafe methods when r carries
// one of this transport's credential cookies. Requests without them are not a
// cookie flow and pass.
func (c *Cookie) CheckCSRF(r *http.Request) error {
	if c.cfg.CSRFName == "" {
		return nil
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return nil
	}
	_, hasAccess := c.Credential(r)
	_, hasRefresh := c.RefreshCredential(r)
	if !hasAccess && !hasRefresh {
		return nil
	}
	hdr := strings.TrimSpace(r.Header.Get(c.cfg.CSRFHeader))
	ck, err := r.Cookie(c.cfg.CSRFName)
	if hdr == "" || err != nil || ck.Value == "" {
		return ErrCSRF
	}
	if subtle.ConstantTimeCompare([]byte(hdr), []byte(ck.Value)) != 1 {
		return ErrCSRF
	}
	return nil
}

// LogoutResponse expires the access cookie. The refresh cookie is cleared too
// when configured.
func (c *Cookie) LogoutResponse() (*Response, error) {
	resp := &Response{
		Status:  http.StatusNoContent,
		Cookies: []*http.Cookie{c.build(c.cfg.Name, "", c.cfg.Path, -1)},
	}
	if c.cfg.RefreshName != "" {
		resp.Cookies = append(resp.Cookies, c.build(c.cfg.RefreshName, "", c.cfg.RefreshPath, -1))
	}
	if c.cfg.CSRFName != "" {
		resp.Cookies = append(resp.Cookies, c.csrfCookie("", -1))
	}
	return resp, nil
}

// csrfCookie is readable by scripts so the page can echo it in a header.
func (c *Cookie) csrfCookie(value string, maxAge time.Duration) *http.Cookie {
	ck := c.build(c.cfg.CSRFName, value, c.cfg.Path, maxAge)
	ck.HttpOnly = false
	return ck
}

// build emits Max-Age=0 when maxAge is negative.
func (c *Cookie) build(name, value, path string, maxAge time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure,
		HttpOnly: c.cfg.HTTPOnly,
		SameSite: c.sameSite,
	}
	switch {
	case maxAge < 0:
		ck.MaxAge = -1
	case maxAge > 0:
		ck.MaxAge = int(maxAge / time.Second)
	}
	return ck
}

// ParseSameSite maps a config string to [http.SameSite]. Empty means lax.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, errors.New("transport: invalid SameSite value " + s)
	}
}
