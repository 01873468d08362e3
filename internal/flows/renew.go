package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/user"
)

// RenewFailureKind classifies renew failures for root-level mapping.
type RenewFailureKind int

const (
	RenewFailureNone RenewFailureKind = iota
	RenewFailureRefreshInvalid
	RenewFailureRefreshStore
	RenewFailureAccessInvalid
	RenewFailureOwnerMismatch
	RenewFailureStrategy
	RenewFailureIssue
	RenewFailureRotate
)

// RenewCaller is the principal and raw token the authenticator accepted.
type RenewCaller struct {
	Principal *user.Principal
	Token     string
	Backend   string
}

// RenewStrategy is the slice of a strategy renew needs.
type RenewStrategy interface {
	GetTokenRecord(ctx context.Context, raw string) (*token.AccessToken, error)
	WriteRenewed(ctx context.Context, p *user.Principal, old *token.AccessToken) (*token.AccessToken, error)
	DestroyToken(ctx context.Context, raw string) error
}

// RenewDeps captures renew flow dependencies.
type RenewDeps struct {
	// ValidateRefresh returns the refresh record, ok=false for an invalid token.
	ValidateRefresh func(ctx context.Context, raw string) (*token.RefreshToken, bool, error)
	// Authenticate resolves the caller with authorized and ignore-expired set.
	Authenticate func(ctx context.Context) (*RenewCaller, bool)
	Strategy     func(ctx context.Context, backend string) (RenewStrategy, error)
	// RotateRefresh is nil unless rotate-on-use is enabled.
	RotateRefresh func(ctx context.Context, raw string) (string, error)
	// DestroyNotSupported is swallowed when destroying the old token.
	DestroyNotSupported error
	Warn                func(msg string, userID string, err error)
}

// RenewResult carries the new access token or failure metadata.
type RenewResult struct {
	Failure      RenewFailureKind
	Err          error
	UserID       string
	Backend      string
	Access       *token.AccessToken
	RefreshToken string
}

// RunRenew exchanges a refresh token and an approved, possibly expired access
// token for a new access token. The new record is written before the old one
// is destroyed; a failed destroy leaves an orphan that expires on its own.
func RunRenew(ctx context.Context, refreshRaw string, deps RenewDeps) RenewResult {
	refresh, ok, err := deps.ValidateRefresh(ctx, refreshRaw)
	if err != nil {
		return RenewResult{Failure: RenewFailureRefreshStore, Err: err}
	}
	if !ok {
		return RenewResult{Failure: RenewFailureRefreshInvalid}
	}

	caller, ok := deps.Authenticate(ctx)
	if !ok {
		return RenewResult{Failure: RenewFailureAccessInvalid, UserID: refresh.UserID}
	}
	if caller.Principal.ID != refresh.UserID {
		return RenewResult{Failure: RenewFailureOwnerMismatch, UserID: refresh.UserID, Backend: caller.Backend}
	}

	s, err := deps.Strategy(ctx, caller.Backend)
	if err != nil {
		return RenewResult{Failure: RenewFailureStrategy, Err: err, UserID: refresh.UserID, Backend: caller.Backend}
	}
	old, err := s.GetTokenRecord(ctx, caller.Token)
	if err != nil {
		return RenewResult{Failure: RenewFailureStrategy, Err: err, UserID: refresh.UserID, Backend: caller.Backend}
	}
	if old == nil {
		return RenewResult{Failure: RenewFailureAccessInvalid, UserID: refresh.UserID, Backend: caller.Backend}
	}

	next, err := s.WriteRenewed(ctx, caller.Principal, old)
	if err != nil {
		return RenewResult{Failure: RenewFailureIssue, Err: err, UserID: refresh.UserID, Backend: caller.Backend}
	}

	result := RenewResult{UserID: refresh.UserID, Backend: caller.Backend, Access: next}
	if deps.RotateRefresh != nil {
		rotated, err := deps.RotateRefresh(ctx, refreshRaw)
		if err != nil {
			// The caller keeps its old credentials; drop the unused new token.
			deps.destroy(ctx, s, next.Token, refresh.UserID)
			return RenewResult{Failure: RenewFailureRotate, Err: err, UserID: refresh.UserID, Backend: caller.Backend}
		}
		result.RefreshToken = rotated
	}

	deps.destroy(ctx, s, caller.Token, refresh.UserID)
	return result
}

func (deps RenewDeps) destroy(ctx context.Context, s RenewStrategy, raw, userID string) {
	err := s.DestroyToken(ctx, raw)
	if err == nil || (deps.DestroyNotSupported != nil && errors.Is(err, deps.DestroyNotSupported)) {
		return
	}
	if deps.Warn != nil {
		deps.Warn("renew left an orphan access token", userID, err)
	}
}
