package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup and its filters.
	ErrNotFound = errors.New("token not found")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// AccessStore persists access-token records keyed by the raw token string.
type AccessStore interface {
	GetAccessToken(ctx context.Context, raw string, q Query) (*AccessToken, error)
	CreateAccessToken(ctx context.Context, rec *AccessToken) error
	UpdateAccessToken(ctx context.Context, rec *AccessToken, patch AccessPatch) (*AccessToken, error)
	DeleteAccessToken(ctx context.Context, raw string) error
	DeleteAccessTokensForOwner(ctx context.Context, userID string) error
}

// RefreshStore persists refresh-token records keyed by [HashKey] of the raw token.
type RefreshStore interface {
	GetRefreshToken(ctx context.Context, key string, maxAge time.Duration) (*RefreshToken, error)
	CreateRefreshToken(ctx context.Context, rec *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, key string) error
	// ConsumeRefreshToken deletes the record and returns it in one atomic
	// step, so at most one caller ever consumes a given token.
	ConsumeRefreshToken(ctx context.Context, key string) (*RefreshToken, error)
	DeleteRefreshTokensForOwner(ctx context.Context, userID string) error
}

// OTPStore persists at most one live code per (access token, factor).
type OTPStore interface {
	CreateOTP(ctx context.Context, rec *OTP) error
	// FindOTP returns the record only when code matches exactly.
	FindOTP(ctx context.Context, accessToken, factor, code string) (*OTP, error)
	DeleteOTP(ctx context.Context, accessToken, factor string) error
}

// Store is implemented by adapters that hold every record kind.
type Store interface {
	AccessStore
	RefreshStore
	OTPStore
}
