package authkit

import (
	"errors"
	"net/http"
)

var (
	// ErrDuplicateBackendNames is returned at construction when two backends share a name.
	ErrDuplicateBackendNames = errors.New("duplicate backend names")
	// ErrNoBackends is returned at construction when no backend is registered.
	ErrNoBackends = errors.New("at least one backend is required")
	// ErrUnknownBackend is returned when a named backend is not registered.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrWrongRefreshToken is the renew failure for a missing, expired or foreign refresh token.
	ErrWrongRefreshToken = errors.New("wrong-refresh-token")
	// ErrWrongAccessToken is the renew failure when the caller holds no approved access token.
	ErrWrongAccessToken = errors.New("wrong-access-token")
	// ErrMFADisabled is returned by OTP operations when no factor is configured.
	ErrMFADisabled = errors.New("mfa disabled")
	// ErrStrategyUnavailable wraps strategy factory failures.
	ErrStrategyUnavailable = errors.New("strategy unavailable")
)

// Reason is the coarse, client-visible cause of a rejection.
type Reason string

const (
	ReasonNoUser        Reason = "no-user"
	ReasonNoActive      Reason = "no-active"
	ReasonNoVerified    Reason = "no-verified"
	ReasonNoPermissions Reason = "no-permissions"
	ReasonCSRF          Reason = "csrf-mismatch"
)

// Status returns the HTTP status for r.
func (r Reason) Status() int {
	switch r {
	case ReasonNoVerified, ReasonNoPermissions, ReasonCSRF:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Rejection is the error returned by a [DecisionFunc] when the request does
// not meet its requirements. It never names the backend or the token fault.
type Rejection struct {
	Reason Reason
	Status int
}

func reject(reason Reason) *Rejection {
	return &Rejection{Reason: reason, Status: reason.Status()}
}

func (r *Rejection) Error() string {
	return "authkit: rejected: " + string(r.Reason)
}

// AsRejection unwraps err into a [Rejection].
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
