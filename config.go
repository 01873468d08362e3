package authkit

import (
	"errors"
	"time"

	"github.com/MrEthical07/authkit/otp"
)

// Config is the engine configuration. Build validates it and refuses to start
// on any error.
type Config struct {
	Access  AccessConfig  `yaml:"access"`
	Refresh RefreshConfig `yaml:"refresh"`
	MFA     otp.Config    `yaml:"mfa"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AccessConfig controls access-token lifetime.
type AccessConfig struct {
	Lifetime time.Duration `yaml:"lifetime"`
}

// RefreshConfig controls refresh tokens.
type RefreshConfig struct {
	Lifetime time.Duration `yaml:"lifetime"`
	// RotateOnUse replaces the refresh token on every renew. Off by default:
	// renew returns only a new access token.
	RotateOnUse bool `yaml:"rotate_on_use"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns one-hour access tokens, thirty-day refresh tokens and
// email MFA.
func DefaultConfig() Config {
	return Config{
		Access: AccessConfig{
			Lifetime: time.Hour,
		},
		Refresh: RefreshConfig{
			Lifetime: 30 * 24 * time.Hour,
		},
		MFA: otp.DefaultConfig(),
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.MFA.Factors = append([]string(nil), cfg.MFA.Factors...)
	return out
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Access.Lifetime <= 0 {
		return errors.New("Access Lifetime must be > 0")
	}
	if c.Refresh.Lifetime <= 0 {
		return errors.New("Refresh Lifetime must be > 0")
	}
	if c.Refresh.Lifetime < c.Access.Lifetime {
		return errors.New("Refresh Lifetime must be >= Access Lifetime")
	}
	if err := c.MFA.Validate(); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}
