package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authkit"
)

// Require authenticates every request against req. The decision function is
// resolved once, when the middleware is built.
func Require(auth *authkit.Authenticator, req authkit.Requirements, opts ...authkit.DecisionOption) func(http.Handler) http.Handler {
	decide := auth.CurrentUser(req, opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := decide(r)
			if err != nil {
				rej, ok := authkit.AsRejection(err)
				if !ok {
					rej = &authkit.Rejection{Reason: authkit.ReasonNoUser, Status: http.StatusUnauthorized}
				}
				WriteRejection(w, rej)
				return
			}
			ctx := authkit.ContextWithDecision(r.Context(), d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteRejection answers with rej's status and coarse reason.
func WriteRejection(w http.ResponseWriter, rej *authkit.Rejection) {
	if rej.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": string(rej.Reason)})
}
