package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/user"
)

// Database resolves opaque access tokens through a token store.
type Database struct {
	store      token.AccessStore
	users      user.Provider
	lifetime   time.Duration
	tokenBytes int
	now        func() time.Time
}

// NewDatabase returns a stateful strategy. lifetime is the access-token max
// age; zero disables age filtering.
func NewDatabase(store token.AccessStore, users user.Provider, lifetime time.Duration) *Database {
	return &Database{
		store:      store,
		users:      users,
		lifetime:   lifetime,
		tokenBytes: token.DefaultTokenBytes,
		now:        time.Now,
	}
}

var (
	_ Strategy     = (*Database)(nil)
	_ OwnerRevoker = (*Database)(nil)
)

// ReadToken applies the max-age filter unless opts.IgnoreExpired and pushes the
// authorized filter down to the store.
func (d *Database) ReadToken(ctx context.Context, raw string, opts ReadOptions) (*user.Principal, error) {
	if raw == "" {
		return nil, nil
	}
	rec, err := d.store.GetAccessToken(ctx, raw, token.Query{
		MaxAge:        d.lifetime,
		Authorized:    opts.Authorized,
		IgnoreExpired: opts.IgnoreExpired,
	})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return resolvePrincipal(ctx, d.users, rec.UserID)
}

func (d *Database) WriteToken(ctx context.Context, p *user.Principal, opts ...WriteOption) (*token.AccessToken, error) {
	cfg := applyWriteOptions(opts)
	raw, err := d.GenerateToken()
	if err != nil {
		return nil, err
	}
	rec := &token.AccessToken{
		Token:     raw,
		UserID:    p.ID,
		CreatedAt: d.now().UTC(),
		Scope:     cfg.scope,
		MFAScopes: cfg.mfaScopes,
	}
	if err := d.store.CreateAccessToken(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *Database) UpdateToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error) {
	return d.store.UpdateAccessToken(ctx, rec, patch)
}

func (d *Database) DestroyToken(ctx context.Context, raw string) error {
	return d.store.DeleteAccessToken(ctx, raw)
}

func (d *Database) DestroyTokensForOwner(ctx context.Context, userID string) error {
	return d.store.DeleteAccessTokensForOwner(ctx, userID)
}

// GetTokenRecord ignores age and scope filters.
func (d *Database) GetTokenRecord(ctx context.Context, raw string) (*token.AccessToken, error) {
	rec, err := d.store.GetAccessToken(ctx, raw, token.Query{IgnoreExpired: true})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (d *Database) GenerateToken() (string, error) {
	return token.Generate(d.tokenBytes)
}
