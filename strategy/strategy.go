package strategy

import (
	"context"
	"errors"

	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/user"
)

var (
	// ErrDestroyNotSupported is returned by strategies that cannot revoke a
	// token before it expires. Logout swallows it.
	ErrDestroyNotSupported = errors.New("strategy: destroy not supported")
	// ErrUpdateNotSupported is returned by strategies without mutable records.
	ErrUpdateNotSupported = errors.New("strategy: update not supported")
)

// ReadOptions are the per-call filters for [Strategy.ReadToken].
type ReadOptions struct {
	// Authorized only resolves tokens whose scope is approved.
	Authorized bool
	// IgnoreExpired accepts tokens past their lifetime. Reserved for renew.
	IgnoreExpired bool
}

// Strategy validates and issues access tokens independently of how they travel.
type Strategy interface {
	ReadToken(ctx context.Context, raw string, opts ReadOptions) (*user.Principal, error)
	WriteToken(ctx context.Context, p *user.Principal, opts ...WriteOption) (*token.AccessToken, error)
	UpdateToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error)
	DestroyToken(ctx context.Context, raw string) error
	// GetTokenRecord returns the stored record, or (nil, nil) when there is none.
	GetTokenRecord(ctx context.Context, raw string) (*token.AccessToken, error)
	GenerateToken() (string, error)
}

// OwnerRevoker is implemented by strategies that can revoke every token of a
// principal at once.
type OwnerRevoker interface {
	DestroyTokensForOwner(ctx context.Context, userID string) error
}

type writeConfig struct {
	scope     token.Scope
	mfaScopes token.MFAScopes
}

// WriteOption customizes a record minted by [Strategy.WriteToken].
type WriteOption func(*writeConfig)

// WithScopes sets the initial scope and per-factor approval state.
func WithScopes(scope token.Scope, mfa token.MFAScopes) WriteOption {
	return func(c *writeConfig) {
		c.scope = scope
		c.mfaScopes = mfa.Clone()
	}
}

// Without WithScopes a record carries no factors and is therefore approved.
func applyWriteOptions(opts []WriteOption) writeConfig {
	cfg := writeConfig{scope: token.Approved}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func resolvePrincipal(ctx context.Context, users user.Provider, id string) (*user.Principal, error) {
	p, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}
