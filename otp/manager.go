package otp

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authkit/internal/rate"
	"github.com/MrEthical07/authkit/token"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators of a [Manager]. Access and Codes are required.
type Deps struct {
	Access   token.AccessStore
	Codes    token.OTPStore
	Notifier Notifier
	Secrets  SecretProvider
	Limiter  AttemptLimiter
	Logger   *zap.Logger
	Now      func() time.Time
	// AccessMaxAge hides access tokens older than this from Send and
	// Validate. Zero disables the filter.
	AccessMaxAge time.Duration
}

// Manager runs the send and validate halves of the MFA challenge.
type Manager struct {
	cfg      Config
	access   token.AccessStore
	codes    token.OTPStore
	notifier Notifier
	secrets  SecretProvider
	limiter  AttemptLimiter
	logger   *zap.Logger
	now      func() time.Time
	maxAge   time.Duration
}

// NewManager checks that every configured factor has what it needs in deps.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Access == nil || deps.Codes == nil {
		return nil, errors.New("otp: access and code stores are required")
	}
	if cfg.Has(FactorAuthenticator) && deps.Secrets == nil {
		return nil, errors.New("otp: authenticator factor requires a SecretProvider")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		access:   deps.Access,
		codes:    deps.Codes,
		notifier: deps.Notifier,
		secrets:  deps.Secrets,
		limiter:  deps.Limiter,
		logger:   logger.Named("otp"),
		now:      now,
		maxAge:   deps.AccessMaxAge,
	}, nil
}

// NewRedisLimiter returns a fixed-window [AttemptLimiter] that allows max
// failed validations per (token, factor) in each window.
func NewRedisLimiter(client redis.UniversalClient, max int, window time.Duration) AttemptLimiter {
	return rate.New(client, rate.Config{Prefix: "aotp", MaxAttempts: max, Window: window})
}

// Factors returns the configured factor list.
func (m *Manager) Factors() []string {
	return append([]string(nil), m.cfg.Factors...)
}

// Send issues a new code for factor on the access token identified by raw.
// Any live code for the same pair is replaced. A delivery failure is logged
// and does not undo the stored code.
func (m *Manager) Send(ctx context.Context, raw, factor string) (SendResult, error) {
	rec, err := m.lookup(ctx, raw)
	if err != nil {
		return SendResult{}, err
	}
	if !m.cfg.Has(factor) || !rec.MFAScopes.Has(factor) || rec.MFAScopes.Approved(factor) {
		return SendResult{Outcome: OutcomeNoMFANeeded}, nil
	}
	if factor == FactorAuthenticator {
		return SendResult{Outcome: OutcomeAuthenticatorApp}, nil
	}

	if err := m.codes.DeleteOTP(ctx, raw, factor); err != nil {
		return SendResult{}, err
	}
	code, err := token.NewCode(m.cfg.Digits)
	if err != nil {
		return SendResult{}, err
	}
	now := m.now().UTC()
	otpRec := &token.OTP{
		AccessToken: raw,
		Factor:      factor,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
	}
	if err := m.codes.CreateOTP(ctx, otpRec); err != nil {
		return SendResult{}, err
	}

	if m.notifier != nil {
		err := m.notifier.Notify(ctx, Delivery{
			UserID:    rec.UserID,
			Factor:    factor,
			Code:      code,
			ExpiresAt: otpRec.ExpiresAt,
		})
		if err != nil {
			m.logger.Warn("otp delivery failed",
				zap.String("user_id", rec.UserID),
				zap.String("factor", factor),
				zap.Error(err),
			)
		}
	}
	return SendResult{Outcome: OutcomeSent, ExpiresAt: otpRec.ExpiresAt}, nil
}

// Validate consumes code and approves factor on the access token. It returns
// the updated record, which keeps the same token string.
func (m *Manager) Validate(ctx context.Context, raw, factor, code string) (*token.AccessToken, error) {
	attemptID := token.HashKey(raw) + ":" + factor
	if m.limiter != nil {
		if err := m.limiter.Check(ctx, attemptID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return nil, ErrTooManyAttempts
			}
			return nil, err
		}
	}

	rec, ok, err := m.match(ctx, raw, factor, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.recordFailure(ctx, attemptID)
		return nil, ErrCodeInvalid
	}

	if factor != FactorAuthenticator {
		if err := m.codes.DeleteOTP(ctx, raw, factor); err != nil {
			return nil, err
		}
	}
	mfa := rec.MFAScopes.Approve(factor)
	scope := ScopeFor(mfa, m.cfg.Factors)
	updated, err := m.access.UpdateAccessToken(ctx, rec, token.AccessPatch{Scope: &scope, MFAScopes: mfa})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, err
	}
	if m.limiter != nil {
		if err := m.limiter.Reset(ctx, attemptID); err != nil {
			m.logger.Warn("otp limiter reset failed", zap.Error(err))
		}
	}
	return updated, nil
}

// match reports whether code is the live code for (raw, factor). Store
// failures are returned; every other mismatch is (rec, false, nil).
func (m *Manager) match(ctx context.Context, raw, factor, code string) (*token.AccessToken, bool, error) {
	rec, err := m.lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if code == "" || !m.cfg.Has(factor) || !rec.MFAScopes.Has(factor) {
		return rec, false, nil
	}

	if factor == FactorAuthenticator {
		secret, err := m.secrets.TOTPSecret(ctx, rec.UserID)
		if err != nil || secret == "" {
			m.logger.Warn("authenticator secret lookup failed", zap.String("user_id", rec.UserID), zap.Error(err))
			return rec, false, nil
		}
		return rec, totp.Validate(code, secret), nil
	}

	live, err := m.codes.FindOTP(ctx, raw, factor, code)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return rec, false, nil
		}
		return nil, false, err
	}
	if live.Expired(m.now()) {
		if err := m.codes.DeleteOTP(ctx, raw, factor); err != nil {
			m.logger.Warn("expired otp cleanup failed", zap.Error(err))
		}
		return rec, false, nil
	}
	return rec, true, nil
}

func (m *Manager) recordFailure(ctx context.Context, attemptID string) {
	if m.limiter == nil {
		return
	}
	if err := m.limiter.Increment(ctx, attemptID); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		m.logger.Warn("otp limiter increment failed", zap.Error(err))
	}
}

func (m *Manager) lookup(ctx context.Context, raw string) (*token.AccessToken, error) {
	if raw == "" {
		return nil, ErrTokenNotFound
	}
	rec, err := m.access.GetAccessToken(ctx, raw, token.Query{MaxAge: m.maxAge})
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return rec, nil
}
