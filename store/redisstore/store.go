// Package redisstore is a [token.Store] backed by Redis.
//
// Records are JSON strings. Each owner has an index set per record kind so
// logout-all can find every token of a user. Access-token updates use
// WATCH/MULTI and retry on contention; OTP codes carry a Redis TTL equal to
// their remaining validity.
//
// # Key layout
//
//	<prefix>:at:<raw>             access token
//	<prefix>:atu:<user>           set of the user's raw access tokens
//	<prefix>:rt:<hash>            refresh token
//	<prefix>:rtu:<user>           set of the user's refresh hashes
//	<prefix>:otp:<raw>:<factor>   live code for (access token, factor)
package redisstore

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authkit/token"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "aks"
	maxRetries    = 4
)

// Config controls key naming and optional record expiry.
type Config struct {
	Prefix string `yaml:"prefix"`
	// AccessTTL expires access records in Redis. Keep it above the access
	// lifetime so renew can still read expired tokens. Zero keeps them until
	// deleted.
	AccessTTL time.Duration `yaml:"access_ttl"`
	// RefreshTTL expires refresh records. Zero keeps them until deleted.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// Store implements [token.Store].
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ token.Store = (*Store)(nil)

// New returns a store using client. An empty prefix defaults to "aks".
func New(client redis.UniversalClient, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		redis:      client,
		prefix:     prefix,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
}

func (s *Store) accessKey(raw string) string       { return s.prefix + ":at:" + raw }
func (s *Store) accessOwnerKey(uid string) string  { return s.prefix + ":atu:" + uid }
func (s *Store) refreshKey(key string) string      { return s.prefix + ":rt:" + key }
func (s *Store) refreshOwnerKey(uid string) string { return s.prefix + ":rtu:" + uid }
func (s *Store) otpKey(access, factor string) string {
	return s.prefix + ":otp:" + access + ":" + factor
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", token.ErrStoreUnavailable, err)
}

// getJSON loads key into v. A missing key is token.ErrNotFound.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return token.ErrNotFound
		}
		return unavailable(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redisstore: decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context, raw string, q token.Query) (*token.AccessToken, error) {
	var rec token.AccessToken
	if err := s.getJSON(ctx, s.accessKey(raw), &rec); err != nil {
		return nil, err
	}
	if !q.Matches(&rec, s.now()) {
		return nil, token.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, rec *token.AccessToken) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ownerKey := s.accessOwnerKey(rec.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(rec.Token), data, s.accessTTL)
		pipe.SAdd(ctx, ownerKey, rec.Token)
		if s.accessTTL > 0 {
			pipe.Expire(ctx, ownerKey, s.accessTTL)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// UpdateAccessToken applies patch under WATCH and retries when another writer
// changes the record between read and write.
func (s *Store) UpdateAccessToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error) {
	key := s.accessKey(rec.Token)
	var out *token.AccessToken

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return token.ErrNotFound
			}
			return err
		}
		var cur token.AccessToken
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("redisstore: decode %s: %w", key, err)
		}
		next := cur.Apply(patch)
		enc, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, token.ErrNotFound):
			return nil, err
		default:
			return nil, unavailable(err)
		}
	}
	return nil, unavailable(errors.New("update contention"))
}

func (s *Store) DeleteAccessToken(ctx context.Context, raw string) error {
	var rec token.AccessToken
	if err := s.getJSON(ctx, s.accessKey(raw), &rec); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accessKey(raw))
		pipe.SRem(ctx, s.accessOwnerKey(rec.UserID), raw)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteAccessTokensForOwner is not atomic: a token created between the
// index read and the delete survives.
func (s *Store) DeleteAccessTokensForOwner(ctx context.Context, userID string) error {
	return s.deleteOwned(ctx, s.accessOwnerKey(userID), s.accessKey)
}

func (s *Store) deleteOwned(ctx context.Context, ownerKey string, keyOf func(string) string) error {
	members, err := s.redis.SMembers(ctx, ownerKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, keyOf(m))
	}
	keys = append(keys, ownerKey)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, key string, maxAge time.Duration) (*token.RefreshToken, error) {
	var rec token.RefreshToken
	if err := s.getJSON(ctx, s.refreshKey(key), &rec); err != nil {
		return nil, err
	}
	if maxAge > 0 && rec.CreatedAt.Before(s.now().Add(-maxAge)) {
		return nil, token.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, rec *token.RefreshToken) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ownerKey := s.refreshOwnerKey(rec.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.refreshKey(rec.Token), data, s.refreshTTL)
		pipe.SAdd(ctx, ownerKey, rec.Token)
		if s.refreshTTL > 0 {
			pipe.Expire(ctx, ownerKey, s.refreshTTL)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, key string) error {
	var rec token.RefreshToken
	if err := s.getJSON(ctx, s.refreshKey(key), &rec); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.refreshKey(key))
		pipe.SRem(ctx, s.refreshOwnerKey(rec.UserID), key)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ConsumeRefreshToken uses GETDEL so concurrent callers race on a single
// command. The owner index entry is removed afterwards; if that fails the
// stale member only costs a no-op delete during logout-all.
func (s *Store) ConsumeRefreshToken(ctx context.Context, key string) (*token.RefreshToken, error) {
	data, err := s.redis.GetDel(ctx, s.refreshKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	var rec token.RefreshToken
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", s.refreshKey(key), err)
	}
	_ = s.redis.SRem(ctx, s.refreshOwnerKey(rec.UserID), key).Err()
	return &rec, nil
}

func (s *Store) DeleteRefreshTokensForOwner(ctx context.Context, userID string) error {
	return s.deleteOwned(ctx, s.refreshOwnerKey(userID), s.refreshKey)
}

// CreateOTP overwrites any live code for the same (access token, factor).
// Codes that are already expired are not stored.
func (s *Store) CreateOTP(ctx context.Context, rec *token.OTP) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.otpKey(rec.AccessToken, rec.Factor), data, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) FindOTP(ctx context.Context, accessToken, factor, code string) (*token.OTP, error) {
	var rec token.OTP
	if err := s.getJSON(ctx, s.otpKey(accessToken, factor), &rec); err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return nil, token.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) DeleteOTP(ctx context.Context, accessToken, factor string) error {
	if err := s.redis.Del(ctx, s.otpKey(accessToken, factor)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping reports the round-trip time to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, unavailable(err)
	}
	return time.Since(start), nil
}
