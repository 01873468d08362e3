package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authkit/token"
	"go.uber.org/zap"
)

// ErrInvalid is returned for unknown, revoked or expired refresh tokens.
var ErrInvalid = errors.New("refresh: invalid refresh token")

// Issued is a freshly minted refresh token. Raw goes to the client.
type Issued struct {
	Raw    string
	Record *token.RefreshToken
}

// Manager owns the refresh-token lifecycle.
type Manager struct {
	store    token.RefreshStore
	lifetime time.Duration
	nbytes   int
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a [Manager].
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager. lifetime must be positive.
func NewManager(store token.RefreshStore, lifetime time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("refresh: store is required")
	}
	if lifetime <= 0 {
		return nil, errors.New("refresh: lifetime must be > 0")
	}
	m := &Manager{
		store:    store,
		lifetime: lifetime,
		nbytes:   token.DefaultTokenBytes,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("refresh")
	return m, nil
}

// Lifetime returns the configured max age.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue mints and stores a refresh token for userID.
func (m *Manager) Issue(ctx context.Context, userID string) (*Issued, error) {
	if userID == "" {
		return nil, errors.New("refresh: empty user id")
	}
	raw, err := token.Generate(m.nbytes)
	if err != nil {
		return nil, err
	}
	rec := &token.RefreshToken{
		Token:     token.HashKey(raw),
		UserID:    userID,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateRefreshToken(ctx, rec); err != nil {
		return nil, err
	}
	return &Issued{Raw: raw, Record: rec}, nil
}

// Validate returns the record for raw if it exists and is within its lifetime.
func (m *Manager) Validate(ctx context.Context, raw string) (*token.RefreshToken, error) {
	if raw == "" {
		return nil, ErrInvalid
	}
	rec, err := m.store.GetRefreshToken(ctx, token.HashKey(raw), m.lifetime)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if rec.CreatedAt.Before(m.now().Add(-m.lifetime)) {
		return nil, ErrInvalid
	}
	return rec, nil
}

// Revoke deletes raw. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return m.store.DeleteRefreshToken(ctx, token.HashKey(raw))
}

// RevokeAll deletes every refresh token of userID.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	return m.store.DeleteRefreshTokensForOwner(ctx, userID)
}

// Rotate consumes old and issues a replacement for the same owner. Consuming
// is atomic in the store, so concurrent rotations of one token yield exactly
// one successor; the losers get ErrInvalid. If issuing fails the consumed
// record is put back so the caller can retry.
func (m *Manager) Rotate(ctx context.Context, old string) (*Issued, error) {
	if old == "" {
		return nil, ErrInvalid
	}
	rec, err := m.store.ConsumeRefreshToken(ctx, token.HashKey(old))
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if rec.CreatedAt.Before(m.now().Add(-m.lifetime)) {
		return nil, ErrInvalid
	}
	next, err := m.Issue(ctx, rec.UserID)
	if err != nil {
		if rerr := m.store.CreateRefreshToken(ctx, rec); rerr != nil {
			m.logger.Warn("restore consumed refresh token", zap.String("user_id", rec.UserID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("refresh: issue replacement: %w", err)
	}
	return next, nil
}
