package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/password"
	"github.com/MrEthical07/authkit/store/pgstore"
	"github.com/MrEthical07/authkit/store/redisstore"
	"github.com/MrEthical07/authkit/transport"
	"gopkg.in/yaml.v3"
)

const (
	driverMemory   = "memory"
	driverRedis    = "redis"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type demoConfig struct {
	Listen     string                 `yaml:"listen"`
	TrustProxy bool                   `yaml:"trust_proxy"`
	LogLevel   string                 `yaml:"log_level"`
	Store      storeConfig            `yaml:"store"`
	Engine     authkit.Config         `yaml:"engine"`
	Cookie     transport.CookieConfig `yaml:"cookie"`
	JWT        jwtConfig              `yaml:"jwt"`
	Password   password.Config        `yaml:"password"`
	Users      []seedUser             `yaml:"users"`
	OAuth      []oauthConfig          `yaml:"oauth"`
}

type storeConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    redisConfig    `yaml:"redis"`
	Postgres pgstore.Config `yaml:"postgres"`
	SQLite   sqliteConfig   `yaml:"sqlite"`
}

type redisConfig struct {
	// Addr empty starts an in-process miniredis.
	Addr     string            `yaml:"addr"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	Store    redisstore.Config `yaml:"store"`
	// MaxOTPAttempts caps failed code checks per token and factor.
	MaxOTPAttempts int           `yaml:"max_otp_attempts"`
	AttemptWindow  time.Duration `yaml:"attempt_window"`
}

type sqliteConfig struct {
	DSN string `yaml:"dsn"`
}

// jwtConfig keys the stateless backend and the OAuth state tokens.
type jwtConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type seedUser struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Email     string `yaml:"email"`
	Verified  bool   `yaml:"verified"`
	Superuser bool   `yaml:"superuser"`
	Disabled  bool   `yaml:"disabled"`
}

type oauthConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// Backend renders the login response; defaults to "cookie".
	Backend string `yaml:"backend"`
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		Listen:   ":8080",
		LogLevel: "info",
		Store: storeConfig{
			Driver: driverMemory,
			Redis: redisConfig{
				MaxOTPAttempts: 5,
				AttemptWindow:  15 * time.Minute,
			},
			SQLite: sqliteConfig{DSN: "file:authkit.db"},
		},
		Engine:   authkit.DefaultConfig(),
		Cookie:   transport.DefaultCookieConfig(),
		JWT:      jwtConfig{Issuer: "authkit-demo"},
		Password: password.DefaultConfig(),
	}
}

// loadConfig layers the YAML file at path over the defaults. An empty path
// falls back to AUTHKIT_CONFIG, then to the defaults alone.
func loadConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()
	if path == "" {
		path = os.Getenv("AUTHKIT_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeConfig(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if secret := os.Getenv("AUTHKIT_JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decodeConfig(raw []byte, cfg *demoConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *demoConfig) validate() error {
	switch c.Store.Driver {
	case driverMemory, driverRedis, driverSQLite:
	case driverPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("jwt.secret must be at least 32 bytes")
	}
	if len(c.OAuth) > 0 && c.JWT.Secret == "" {
		return errors.New("oauth providers need jwt.secret for state tokens")
	}
	seen := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		name := strings.ToLower(strings.TrimSpace(u.Username))
		if name == "" {
			return errors.New("users: username is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("users: duplicate username %q", u.Username)
		}
		seen[name] = struct{}{}
	}
	for _, p := range c.OAuth {
		if p.Name == "" || p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return fmt.Errorf("oauth %q: name, client_id, auth_url, token_url and userinfo_url are required", p.Name)
		}
	}
	return nil
}
