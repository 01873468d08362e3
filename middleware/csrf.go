package middleware

import (
	"net/http"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/transport"
)

// CSRF rejects unsafe cookie-authenticated requests whose double-submit token
// does not match, for every cookie backend of auth. Bearer-only requests pass.
func CSRF(auth *authkit.Authenticator) func(http.Handler) http.Handler {
	var cookies []*transport.Cookie
	for _, b := range auth.Backends() {
		if c, ok := b.Transport.(*transport.Cookie); ok {
			cookies = append(cookies, c)
		}
	}
	return func(next http.Handler) http.Handler {
		if len(cookies) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, c := range cookies {
				if err := c.CheckCSRF(r); err != nil {
					WriteRejection(w, &authkit.Rejection{Reason: authkit.ReasonCSRF, Status: http.StatusForbidden})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
