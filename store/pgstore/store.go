// Package pgstore is a PostgreSQL [token.Store] built on pgx/v5.
//
// Access and refresh filters are evaluated in SQL. Updates and the OTP
// replace are single statements, so no explicit transactions are needed.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authkit/token"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store implements [token.Store].
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var _ token.Store = (*Store)(nil)

// New connects to PostgreSQL and, with MigrateOnStart, applies migrations.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger.Named("pgstore"), now: time.Now}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", token.ErrStoreUnavailable, err)
}

func scanAccess(row pgx.Row) (*token.AccessToken, error) {
	var (
		rec   token.AccessToken
		scope string
		mfa   []byte
	)
	if err := row.Scan(&rec.Token, &rec.UserID, &rec.CreatedAt, &scope, &mfa); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.Scope = token.ParseScope(scope)
	if err := json.Unmarshal(mfa, &rec.MFAScopes); err != nil {
		return nil, fmt.Errorf("decoding mfa_scopes: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (s *Store) GetAccessToken(ctx context.Context, raw string, q token.Query) (*token.AccessToken, error) {
	var cutoff *time.Time
	if c, ok := q.Cutoff(s.now()); ok {
		cutoff = &c
	}
	row := s.pool.QueryRow(ctx, `
		SELECT token, user_id, created_at, scope, mfa_scopes
		FROM access_tokens
		WHERE token = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND (NOT $3 OR scope = 'approved')
	`, raw, cutoff, q.Authorized)
	return scanAccess(row)
}

func (s *Store) CreateAccessToken(ctx context.Context, rec *token.AccessToken) error {
	mfa, err := json.Marshal(rec.MFAScopes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO access_tokens (token, user_id, created_at, scope, mfa_scopes)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, rec.Token, rec.UserID, rec.CreatedAt, rec.Scope.String(), string(mfa))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) UpdateAccessToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error) {
	var scope, mfa *string
	if patch.Scope != nil {
		v := patch.Scope.String()
		scope = &v
	}
	if patch.MFAScopes != nil {
		b, err := json.Marshal(patch.MFAScopes)
		if err != nil {
			return nil, err
		}
		v := string(b)
		mfa = &v
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE access_tokens
		SET scope = COALESCE($2::text, scope),
		    mfa_scopes = COALESCE($3::jsonb, mfa_scopes)
		WHERE token = $1
		RETURNING token, user_id, created_at, scope, mfa_scopes
	`, rec.Token, scope, mfa)
	return scanAccess(row)
}

func (s *Store) DeleteAccessToken(ctx context.Context, raw string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM access_tokens WHERE token = $1`, raw); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteAccessTokensForOwner(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM access_tokens WHERE user_id = $1`, userID); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, key string, maxAge time.Duration) (*token.RefreshToken, error) {
	var cutoff *time.Time
	if maxAge > 0 {
		c := s.now().Add(-maxAge)
		cutoff = &c
	}
	var rec token.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, user_id, created_at
		FROM refresh_tokens
		WHERE token = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
	`, key, cutoff).Scan(&rec.Token, &rec.UserID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, rec *token.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, created_at) VALUES ($1, $2, $3)
	`, rec.Token, rec.UserID, rec.CreatedAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, key); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, key string) (*token.RefreshToken, error) {
	var rec token.RefreshToken
	err := s.pool.QueryRow(ctx, `
		DELETE FROM refresh_tokens WHERE token = $1
		RETURNING token, user_id, created_at
	`, key).Scan(&rec.Token, &rec.UserID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (s *Store) DeleteRefreshTokensForOwner(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return unavailable(err)
	}
	return nil
}

// CreateOTP upserts the code for (access token, factor). Expired codes are
// not stored.
func (s *Store) CreateOTP(ctx context.Context, rec *token.OTP) error {
	if !rec.ExpiresAt.After(s.now()) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO otps (access_token, factor, code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (access_token, factor) DO UPDATE
		SET code = EXCLUDED.code,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`, rec.AccessToken, rec.Factor, rec.Code, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) FindOTP(ctx context.Context, accessToken, factor, code string) (*token.OTP, error) {
	var rec token.OTP
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, factor, code, created_at, expires_at
		FROM otps
		WHERE access_token = $1 AND factor = $2 AND code = $3 AND expires_at > $4
	`, accessToken, factor, code, s.now()).Scan(&rec.AccessToken, &rec.Factor, &rec.Code, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

func (s *Store) DeleteOTP(ctx context.Context, accessToken, factor string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM otps WHERE access_token = $1 AND factor = $2`, accessToken, factor); err != nil {
		return unavailable(err)
	}
	return nil
}

// PurgeExpiredOTPs deletes codes past their expiry and returns how many were
// removed.
func (s *Store) PurgeExpiredOTPs(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM otps WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}
