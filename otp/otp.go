package otp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/authkit/token"
)

// Factor names.
const (
	FactorEmail         = "email"
	FactorSMS           = "sms"
	FactorAuthenticator = "authenticator"
)

var (
	// ErrCodeInvalid is the single failure for wrong, expired or unknown codes.
	ErrCodeInvalid = errors.New("otp: invalid code")
	// ErrTooManyAttempts is returned once the attempt limiter trips.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	// ErrTokenNotFound is returned when the access token does not exist.
	ErrTokenNotFound = errors.New("otp: access token not found")
	// ErrNoSecret is returned when the authenticator factor has no provider.
	ErrNoSecret = errors.New("otp: authenticator secret unavailable")
)

// Outcome is the result kind of [Manager.Send].
type Outcome int

const (
	// OutcomeSent means a new code was stored and handed to the notifier.
	OutcomeSent Outcome = iota
	// OutcomeNoMFANeeded means the factor is unknown or already approved.
	OutcomeNoMFANeeded
	// OutcomeAuthenticatorApp means the user reads the code from their app.
	OutcomeAuthenticatorApp
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeNoMFANeeded:
		return "no-mfa-needed"
	case OutcomeAuthenticatorApp:
		return "authenticator-app"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SendResult describes a Send call.
type SendResult struct {
	Outcome   Outcome
	ExpiresAt time.Time
}

// Delivery is what a [Notifier] receives. Code is the only copy the caller
// sees; it must not be logged.
type Delivery struct {
	UserID    string
	Factor    string
	Code      string
	ExpiresAt time.Time
}

// Notifier delivers codes out of band (email, SMS).
type Notifier interface {
	Notify(ctx context.Context, d Delivery) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) Notify(ctx context.Context, d Delivery) error { return f(ctx, d) }

// SecretProvider returns a principal's base32 TOTP secret.
type SecretProvider interface {
	TOTPSecret(ctx context.Context, userID string) (string, error)
}

// AttemptLimiter bounds failed validations per (token, factor).
type AttemptLimiter interface {
	Check(ctx context.Context, id string) error
	Increment(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
}

// ScopeFor returns approved iff every factor in factors is approved in mfa.
func ScopeFor(mfa token.MFAScopes, factors []string) token.Scope {
	if mfa.AllApproved(factors) {
		return token.Approved
	}
	return token.None
}

// Config selects factors and code shape.
type Config struct {
	Factors []string      `yaml:"factors"`
	Digits  int           `yaml:"digits"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultConfig is six-digit email codes valid for five minutes.
func DefaultConfig() Config {
	return Config{
		Factors: []string{FactorEmail},
		Digits:  6,
		TTL:     5 * time.Minute,
	}
}

// Validate checks factor names and code shape.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Factors))
	for _, f := range c.Factors {
		switch f {
		case FactorEmail, FactorSMS, FactorAuthenticator:
		default:
			return fmt.Errorf("otp: unknown factor %q", f)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("otp: duplicate factor %q", f)
		}
		seen[f] = struct{}{}
	}
	if len(c.Factors) == 0 {
		return nil
	}
	if c.Digits < 4 || c.Digits > 10 {
		return errors.New("otp: digits must be between 4 and 10")
	}
	if c.TTL <= 0 {
		return errors.New("otp: ttl must be > 0")
	}
	return nil
}

// Has reports whether factor is configured.
func (c Config) Has(factor string) bool {
	return slices.Contains(c.Factors, factor)
}
