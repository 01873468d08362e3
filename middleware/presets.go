package middleware

import (
	"net/http"

	"github.com/MrEthical07/authkit"
)

// RequireActive admits active principals, MFA approval not required.
func RequireActive(auth *authkit.Authenticator) func(http.Handler) http.Handler {
	return Require(auth, authkit.Requirements{Active: true})
}

// RequireApproved admits active principals whose token passed every MFA factor.
func RequireApproved(auth *authkit.Authenticator) func(http.Handler) http.Handler {
	return Require(auth, authkit.Requirements{Active: true, Authorized: true})
}

// RequireSuperuser allows only authenticated principals flagged as superuser.
func RequireSuperuser(auth *authkit.Authenticator) func(http.Handler) http.Handler {
	return Require(auth, authkit.Requirements{Active: true, Authorized: true, Superuser: true})
}

// Optional never rejects; handlers see an anonymous decision instead.
func Optional(auth *authkit.Authenticator) func(http.Handler) http.Handler {
	return Require(auth, authkit.Requirements{Optional: true, Active: true})
}
