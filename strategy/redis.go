package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/user"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("strategy: redis unavailable")

// RedisConfig configures a [Redis] strategy.
type RedisConfig struct {
	Client   redis.UniversalClient
	Users    user.Provider
	Lifetime time.Duration
	// TTL is how long a key outlives its creation, so renew can still read a
	// token past Lifetime. Defaults to twice Lifetime and may not be shorter.
	TTL time.Duration
	// Prefix namespaces every key. Defaults to "ak".
	Prefix string
}

// Redis stores opaque tokens as short hashes (owner, creation time, scope and
// factor state) plus a per-owner index set. Age is checked against the
// creation time; the key TTL only bounds how long expired tokens linger.
type Redis struct {
	redis    redis.UniversalClient
	users    user.Provider
	lifetime time.Duration
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

var (
	_ Strategy     = (*Redis)(nil)
	_ OwnerRevoker = (*Redis)(nil)
)

// NewRedis validates cfg and returns a stateful Redis strategy.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("strategy: redis client is required")
	}
	if cfg.Users == nil {
		return nil, errors.New("strategy: user provider is required")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("strategy: redis lifetime must be > 0")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 2 * cfg.Lifetime
	}
	if cfg.TTL < cfg.Lifetime {
		return nil, errors.New("strategy: redis ttl must be >= lifetime")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ak"
	}
	return &Redis{
		redis:    cfg.Client,
		users:    cfg.Users,
		lifetime: cfg.Lifetime,
		ttl:      cfg.TTL,
		prefix:   cfg.Prefix,
		now:      time.Now,
	}, nil
}

func (r *Redis) key(raw string) string {
	return r.prefix + ":tok:" + raw
}

func (r *Redis) ownerKey(userID string) string {
	return r.prefix + ":tu:" + userID
}

// ReadToken applies the lifetime unless opts.IgnoreExpired, and the approved
// scope filter when opts.Authorized.
func (r *Redis) ReadToken(ctx context.Context, raw string, opts ReadOptions) (*user.Principal, error) {
	if raw == "" {
		return nil, nil
	}
	rec, err := r.GetTokenRecord(ctx, raw)
	if err != nil || rec == nil {
		return nil, err
	}
	q := token.Query{MaxAge: r.lifetime, Authorized: opts.Authorized, IgnoreExpired: opts.IgnoreExpired}
	if !q.Matches(rec, r.now()) {
		return nil, nil
	}
	return resolvePrincipal(ctx, r.users, rec.UserID)
}

func (r *Redis) WriteToken(ctx context.Context, p *user.Principal, opts ...WriteOption) (*token.AccessToken, error) {
	cfg := applyWriteOptions(opts)
	raw, err := r.GenerateToken()
	if err != nil {
		return nil, err
	}
	var mfa []byte
	if len(cfg.mfaScopes) > 0 {
		if mfa, err = json.Marshal(cfg.mfaScopes); err != nil {
			return nil, err
		}
	}
	now := r.now().UTC()
	key := r.key(raw)
	ownerKey := r.ownerKey(p.ID)

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "uid", p.ID, "created", now.UnixNano(), "scope", cfg.scope.String(), "mfa", string(mfa))
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, ownerKey, raw)
		pipe.Expire(ctx, ownerKey, r.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return &token.AccessToken{
		Token:     raw,
		UserID:    p.ID,
		CreatedAt: now,
		Scope:     cfg.scope,
		MFAScopes: cfg.mfaScopes,
	}, nil
}
func (r *Redis) UpdateToken(context.Context, *token.AccessToken, token.AccessPatch) (*token.AccessToken, error) {
	return nil, ErrUpdateNotSupported
}

func (r *Redis) DestroyToken(ctx context.Context, raw string) error {
	rec, err := r.GetTokenRecord(ctx, raw)
	if err != nil || rec == nil {
		return err
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(raw))
		pipe.SRem(ctx, r.ownerKey(rec.UserID), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DestroyTokensForOwner is not atomic with concurrent logins; a token written
// between the read and the delete survives until its TTL.
func (r *Redis) DestroyTokensForOwner(ctx context.Context, userID string) error {
	ownerKey := r.ownerKey(userID)
	raws, err := r.redis.SMembers(ctx, ownerKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	keys := make([]string, 0, len(raws)+1)
	for _, raw := range raws {
		keys = append(keys, r.key(raw))
	}
	keys = append(keys, ownerKey)
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetTokenRecord ignores age and scope filters.
func (r *Redis) GetTokenRecord(ctx context.Context, raw string) (*token.AccessToken, error) {
	if raw == "" {
		return nil, nil
	}
	vals, err := r.redis.HMGet(ctx, r.key(raw), "uid", "created", "scope", "mfa").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	uid, _ := vals[0].(string)
	if uid == "" {
		return nil, nil
	}
	scope, _ := vals[2].(string)
	rec := &token.AccessToken{Token: raw, UserID: uid, Scope: token.ParseScope(scope)}
	if created, ok := vals[1].(string); ok {
		if nanos, err := strconv.ParseInt(created, 10, 64); err == nil {
			rec.CreatedAt = time.Unix(0, nanos).UTC()
		}
	}
	if mfa, _ := vals[3].(string); mfa != "" {
		if err := json.Unmarshal([]byte(mfa), &rec.MFAScopes); err != nil {
			return nil, fmt.Errorf("strategy: decode mfa scopes: %w", err)
		}
	}
	return rec, nil
}

func (r *Redis) GenerateToken() (string, error) {
	return token.Generate(token.DefaultTokenBytes)
}
