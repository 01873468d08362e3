package password

import (
	"errors"
	"strings"
	"testing"
)

func secureConfig() Config {
	return DefaultConfig()
}

func mustArgon2(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return a
}

func TestHashAndVerify(t *testing.T) {
	hasher := mustArgon2(t, secureConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	for _, tc := range []struct {
		password string
		want     bool
	}{
		{"P@ssw0rd-Ascii", true},
		{"P@ssw0rd-ascii", false},
		{"", false},
	} {
		ok, err := hasher.Verify(tc.password, hash)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tc.password, err)
		}
		if ok != tc.want {
			t.Fatalf("Verify(%q) = %v, want %v", tc.password, ok, tc.want)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := fastConfig()
	weakHash, err := mustArgon2(t, weak).Hash("test-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	strong := mustArgon2(t, secureConfig())
	if up, err := strong.NeedsUpgrade(weakHash); err != nil || !up {
		t.Fatalf("NeedsUpgrade(weak) = %v, %v; want true", up, err)
	}

	sameHash, err := strong.Hash("same-config-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if up, err := strong.NeedsUpgrade(sameHash); err != nil || up {
		t.Fatalf("NeedsUpgrade(same) = %v, %v; want false", up, err)
	}
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	hasher := mustArgon2(t, fastConfig())
	good, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	tests := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(good, "$v=19$", "$v=18$", 1),
		"wrong algo":    strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"weak memory":   strings.Replace(good, "m=8192", "m=1024", 1),
		"extra param":   strings.Replace(good, ",p=1", ",p=1,x=2", 1),
		"reordered":     strings.Replace(good, "m=8192,t=1", "t=1,m=8192", 1),
		"short key":     good[:strings.LastIndex(good, "$")+1] + "AAAA",
	}
	for name, hash := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := hasher.Verify("version-test", hash); !errors.Is(err, ErrMalformedHash) {
				t.Fatalf("expected ErrMalformedHash, got %v", err)
			}
		})
	}
}

func TestHashLengthBounds(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	hasher := mustArgon2(t, cfg)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "empty", password: "", wantErr: ErrPasswordTooShort},
		{name: "short", password: "short", wantErr: ErrPasswordTooShort},
		{name: "at max", password: strings.Repeat("b", 64)},
		{name: "over max", password: strings.Repeat("a", 65), wantErr: ErrPasswordTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Hash error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if ok, err := hasher.Verify(tt.password, hash); err != nil || !ok {
				t.Fatalf("Verify = %v, %v", ok, err)
			}
		})
	}

	hash, err := hasher.Hash("valid-password-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := hasher.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Verify oversized error = %v, want ErrPasswordTooLong", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	hasher := mustArgon2(t, fastConfig())

	if _, err := hasher.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected password > %d bytes to be rejected, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := hasher.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected password of exactly %d bytes to be accepted: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Memory = 1024 },
		func(c *Config) { c.Time = 0 },
		func(c *Config) { c.Parallelism = 0 },
		func(c *Config) { c.SaltLength = 8 },
		func(c *Config) { c.KeyLength = 8 },
		func(c *Config) { c.MaxPasswordBytes = 5 },
		func(c *Config) { c.MaxPasswordBytes = -1 },
	}
	for i, mutate := range bad {
		cfg := fastConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
