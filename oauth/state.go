package oauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	authjwt "github.com/MrEthical07/authkit/jwt"
	"github.com/MrEthical07/authkit/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateAudience is the aud claim of every state token.
const StateAudience = "authkit:oauth-state"

// DefaultStateTTL bounds the time between authorize and callback.
const DefaultStateTTL = 10 * time.Minute

const nonceBytes = 24

// ErrInvalidState covers a bad signature, expiry, wrong provider and a nonce
// that does not match the cookie.
var ErrInvalidState = errors.New("oauth: invalid state")

type stateClaims struct {
	Nonce    string `json:"nonce"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies state tokens.
type StateCodec struct {
	jwt *authjwt.Manager
	ttl time.Duration
	now func() time.Time
}

// NewStateCodec signs states with m. A non-positive ttl uses DefaultStateTTL.
func NewStateCodec(m *authjwt.Manager, ttl time.Duration) (*StateCodec, error) {
	if m == nil {
		return nil, errors.New("oauth: state codec requires a jwt manager")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{jwt: m, ttl: ttl, now: time.Now}, nil
}

// TTL returns how long an issued state stays valid.
func (c *StateCodec) TTL() time.Duration { return c.ttl }

// Issue returns a signed state for provider and the nonce it embeds. The
// nonce belongs in the browser cookie; the state goes to the provider.
func (c *StateCodec) Issue(provider string) (state, nonce string, err error) {
	nonce, err = token.Generate(nonceBytes)
	if err != nil {
		return "", "", err
	}
	now := c.now()
	claims := stateClaims{
		Nonce:    nonce,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.jwt.Issuer(),
			Audience:  jwt.ClaimStrings{StateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	state, err = c.jwt.Sign(claims)
	if err != nil {
		return "", "", fmt.Errorf("oauth: sign state: %w", err)
	}
	return state, nonce, nil
}

// Verify checks the state's signature, audience and expiry, that it was
// issued for provider, and that its nonce equals cookieNonce.
func (c *StateCodec) Verify(state, provider, cookieNonce string) error {
	if state == "" || cookieNonce == "" {
		return ErrInvalidState
	}
	var claims stateClaims
	if err := c.jwt.Parse(state, &claims, authjwt.ParseOptions{Audience: StateAudience}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Provider != provider {
		return ErrInvalidState
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(cookieNonce)) != 1 {
		return ErrInvalidState
	}
	return nil
}
