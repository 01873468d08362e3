// Package sqlitestore is an embedded SQLite [token.Store] using the pure-Go
// modernc.org/sqlite driver.
//
// Timestamps are stored as Unix nanoseconds so age filters compare exactly.
// The pool is limited to one connection; SQLite serializes writers anyway.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authkit/token"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements [token.Store].
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ token.Store = (*Store)(nil)

// New opens dsn (a file path or "file::memory:?cache=shared") and applies the
// embedded migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ApplyMigrations applies pending embedded migrations.
func (s *Store) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", token.ErrStoreUnavailable, err)
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func scanAccess(row *sql.Row) (*token.AccessToken, error) {
	var (
		rec     token.AccessToken
		created int64
		scope   string
		mfa     string
	)
	if err := row.Scan(&rec.Token, &rec.UserID, &created, &scope, &mfa); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = fromNanos(created)
	rec.Scope = token.ParseScope(scope)
	if err := json.Unmarshal([]byte(mfa), &rec.MFAScopes); err != nil {
		return nil, fmt.Errorf("decoding mfa_scopes: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetAccessToken(ctx context.Context, raw string, q token.Query) (*token.AccessToken, error) {
	var cutoff sql.NullInt64
	if c, ok := q.Cutoff(s.now()); ok {
		cutoff = sql.NullInt64{Int64: c.UnixNano(), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, scope, mfa_scopes
		FROM access_tokens
		WHERE token = ?1
		  AND (?2 IS NULL OR created_at >= ?2)
		  AND (?3 = 0 OR scope = 'approved')
	`, raw, cutoff, q.Authorized)
	return scanAccess(row)
}

func (s *Store) CreateAccessToken(ctx context.Context, rec *token.AccessToken) error {
	mfa, err := json.Marshal(rec.MFAScopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (token, user_id, created_at, scope, mfa_scopes)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Token, rec.UserID, rec.CreatedAt.UnixNano(), rec.Scope.String(), string(mfa))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) UpdateAccessToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error) {
	var scope, mfa sql.NullString
	if patch.Scope != nil {
		scope = sql.NullString{String: patch.Scope.String(), Valid: true}
	}
	if patch.MFAScopes != nil {
		b, err := json.Marshal(patch.MFAScopes)
		if err != nil {
			return nil, err
		}
		mfa = sql.NullString{String: string(b), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE access_tokens
		SET scope = COALESCE(?2, scope),
		    mfa_scopes = COALESCE(?3, mfa_scopes)
		WHERE token = ?1
		RETURNING token, user_id, created_at, scope, mfa_scopes
	`, rec.Token, scope, mfa)
	return scanAccess(row)
}

func (s *Store) DeleteAccessToken(ctx context.Context, raw string) error {
	return s.exec(ctx, `DELETE FROM access_tokens WHERE token = ?`, raw)
}

func (s *Store) DeleteAccessTokensForOwner(ctx context.Context, userID string) error {
	return s.exec(ctx, `DELETE FROM access_tokens WHERE user_id = ?`, userID)
}

func (s *Store) GetRefreshToken(ctx context.Context, key string, maxAge time.Duration) (*token.RefreshToken, error) {
	var cutoff sql.NullInt64
	if maxAge > 0 {
		cutoff = sql.NullInt64{Int64: s.now().Add(-maxAge).UnixNano(), Valid: true}
	}
	var (
		rec     token.RefreshToken
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at
		FROM refresh_tokens
		WHERE token = ?1
		  AND (?2 IS NULL OR created_at >= ?2)
	`, key, cutoff).Scan(&rec.Token, &rec.UserID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = fromNanos(created)
	return &rec, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, rec *token.RefreshToken) error {
	return s.exec(ctx, `INSERT INTO refresh_tokens (token, user_id, created_at) VALUES (?, ?, ?)`,
		rec.Token, rec.UserID, rec.CreatedAt.UnixNano())
}

func (s *Store) DeleteRefreshToken(ctx context.Context, key string) error {
	return s.exec(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, key)
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, key string) (*token.RefreshToken, error) {
	var (
		rec     token.RefreshToken
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM refresh_tokens WHERE token = ?
		RETURNING token, user_id, created_at
	`, key).Scan(&rec.Token, &rec.UserID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = fromNanos(created)
	return &rec, nil
}

func (s *Store) DeleteRefreshTokensForOwner(ctx context.Context, userID string) error {
	return s.exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
}

// CreateOTP upserts the code for (access token, factor). Expired codes are
// not stored.
func (s *Store) CreateOTP(ctx context.Context, rec *token.OTP) error {
	if !rec.ExpiresAt.After(s.now()) {
		return nil
	}
	return s.exec(ctx, `
		INSERT INTO otps (access_token, factor, code, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (access_token, factor) DO UPDATE
		SET code = excluded.code,
		    created_at = excluded.created_at,
		    expires_at = excluded.expires_at
	`, rec.AccessToken, rec.Factor, rec.Code, rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano())
}

func (s *Store) FindOTP(ctx context.Context, accessToken, factor, code string) (*token.OTP, error) {
	var (
		rec              token.OTP
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, factor, code, created_at, expires_at
		FROM otps
		WHERE access_token = ? AND factor = ? AND code = ? AND expires_at > ?
	`, accessToken, factor, code, s.now().UnixNano()).Scan(&rec.AccessToken, &rec.Factor, &rec.Code, &created, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec.CreatedAt = fromNanos(created)
	rec.ExpiresAt = fromNanos(expires)
	return &rec, nil
}

func (s *Store) DeleteOTP(ctx context.Context, accessToken, factor string) error {
	return s.exec(ctx, `DELETE FROM otps WHERE access_token = ? AND factor = ?`, accessToken, factor)
}

// PurgeExpired removes expired codes and access tokens created before
// accessCutoff. A zero cutoff keeps every access token.
func (s *Store) PurgeExpired(ctx context.Context, accessCutoff time.Time) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM otps WHERE expires_at <= ?`, s.now().UnixNano()); err != nil {
			return err
		}
		if accessCutoff.IsZero() {
			return nil
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE created_at < ?`, accessCutoff.UnixNano())
		return err
	})
}

// WithTx runs fn in a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable(err)
	}
	return nil
}
