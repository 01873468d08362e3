package authkit

import (
	"testing"
	"time"

	"github.com/MrEthical07/authkit/store/memory"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no factors", mutate: func(c *Config) { c.MFA.Factors = nil }},
		{name: "zero access lifetime", mutate: func(c *Config) { c.Access.Lifetime = 0 }, wantErr: true},
		{name: "zero refresh lifetime", mutate: func(c *Config) { c.Refresh.Lifetime = 0 }, wantErr: true},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.Refresh.Lifetime = time.Minute }, wantErr: true},
		{name: "unknown factor", mutate: func(c *Config) { c.MFA.Factors = []string{"carrier-pigeon"} }, wantErr: true},
		{name: "audit without buffer", mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, wantErr: true},
		{name: "latency without metrics", mutate: func(c *Config) {
			c.Metrics.EnableLatencyHistograms = true
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Access.Lifetime = 0
	if _, err := New().WithConfig(cfg).WithStore(memory.New()).Build(); err == nil {
		t.Fatal("expected Build to fail on invalid config")
	}
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected Build to fail without a store")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	env := newTestEnv(t, testConfig())

	b := New().WithStore(memory.New()).WithBackends(env.engine.Authenticator().Backends()...)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)

	cfg.MFA.Factors[0] = "sms"
	got := env.engine.Config()
	if got.MFA.Factors[0] != "email" {
		t.Fatalf("engine config aliased caller slice: %v", got.MFA.Factors)
	}
	got.MFA.Factors[0] = "sms"
	if env.engine.Config().MFA.Factors[0] != "email" {
		t.Fatal("Config returned an aliased slice")
	}
}
