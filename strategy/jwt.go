package strategy

import (
	"context"
	"errors"
	"time"

	authjwt "github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/user"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultJWTAudience is the aud claim of access tokens when none is configured.
const DefaultJWTAudience = "authkit:auth"

// JWTConfig configures a [JWT] strategy.
type JWTConfig struct {
	Manager  *authjwt.Manager
	Users    user.Provider
	Lifetime time.Duration
	Audience string
}

// JWT is a stateless strategy. Tokens cannot be revoked or updated and never
// satisfy an authorized read because they carry no MFA state.
type JWT struct {
	manager  *authjwt.Manager
	users    user.Provider
	lifetime time.Duration
	audience string
	now      func() time.Time
}

var _ Strategy = (*JWT)(nil)

// NewJWT returns a stateless strategy that signs access tokens with
// cfg.Manager. Scope and MFA state travel in the claims.
func NewJWT(cfg JWTConfig) (*JWT, error) {
	if cfg.Manager == nil {
		return nil, errors.New("strategy: jwt manager is required")
	}
	if cfg.Users == nil {
		return nil, errors.New("strategy: user provider is required")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("strategy: jwt lifetime must be > 0")
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultJWTAudience
	}
	return &JWT{
		manager:  cfg.Manager,
		users:    cfg.Users,
		lifetime: cfg.Lifetime,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

func (j *JWT) ReadToken(ctx context.Context, raw string, opts ReadOptions) (*user.Principal, error) {
	if raw == "" || opts.Authorized {
		return nil, nil
	}
	claims, ok := j.parse(raw, opts.IgnoreExpired)
	if !ok {
		return nil, nil
	}
	return resolvePrincipal(ctx, j.users, claims.UID)
}

// WriteToken signs a new token. Scope options are accepted but not encoded.
func (j *JWT) WriteToken(_ context.Context, p *user.Principal, opts ...WriteOption) (*token.AccessToken, error) {
	cfg := applyWriteOptions(opts)
	now := j.now().UTC()
	jti, err := j.GenerateToken()
	if err != nil {
		return nil, err
	}
	raw, err := j.manager.Sign(authjwt.AccessClaims{
		UID: p.ID,
		RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    j.manager.Issuer(),
			Subject:   p.ID,
			Audience:  gjwt.ClaimStrings{j.audience},
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(j.lifetime)),
			ID:        jti,
		},
	})
	if err != nil {
		return nil, err
	}
	return &token.AccessToken{
		Token:     raw,
		UserID:    p.ID,
		CreatedAt: now,
		Scope:     cfg.scope,
		MFAScopes: cfg.mfaScopes,
	}, nil
}

func (j *JWT) UpdateToken(context.Context, *token.AccessToken, token.AccessPatch) (*token.AccessToken, error) {
	return nil, ErrUpdateNotSupported
}

func (j *JWT) DestroyToken(context.Context, string) error {
	return ErrDestroyNotSupported
}

// GetTokenRecord decodes a verified token, expired or not, into a record view.
func (j *JWT) GetTokenRecord(_ context.Context, raw string) (*token.AccessToken, error) {
	claims, ok := j.parse(raw, true)
	if !ok {
		return nil, nil
	}
	rec := &token.AccessToken{Token: raw, UserID: claims.UID, Scope: token.None}
	if claims.IssuedAt != nil {
		rec.CreatedAt = claims.IssuedAt.Time
	}
	return rec, nil
}

// GenerateToken returns a fresh jti.
func (j *JWT) GenerateToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (j *JWT) parse(raw string, skipExpiry bool) (*authjwt.AccessClaims, bool) {
	var claims authjwt.AccessClaims
	err := j.manager.Parse(raw, &claims, authjwt.ParseOptions{Audience: j.audience, SkipExpiry: skipExpiry})
	if err != nil || claims.UID == "" {
		return nil, false
	}
	return &claims, true
}
