package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minPasswordBytes = 10

	// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	ErrPasswordTooShort = errors.New("password: shorter than 10 bytes")
	ErrPasswordTooLong  = errors.New("password: longer than the configured maximum")
	ErrMalformedHash    = errors.New("password: malformed argon2id hash")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32 `yaml:"memory_kb"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
	// MaxPasswordBytes bounds the work a single login attempt can force.
	MaxPasswordBytes int `yaml:"max_password_bytes"`
}

// DefaultConfig is the second RFC 9106 recommendation: 64 MiB, three passes.
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func (c Config) validate() error {
	for _, check := range []struct {
		ok  bool
		msg string
	}{
		{c.Memory >= 8*1024, "memory must be at least 8192 KiB"},
		{c.Time >= 1, "time must be at least 1"},
		{c.Parallelism >= 1, "parallelism must be at least 1"},
		{c.SaltLength >= 16, "salt length must be at least 16"},
		{c.KeyLength >= 16, "key length must be at least 16"},
		{c.MaxPasswordBytes == 0 || c.MaxPasswordBytes >= minPasswordBytes, "max password bytes must be 0 or at least 10"},
	} {
		if !check.ok {
			return errors.New("password: " + check.msg)
		}
	}
	return nil
}

// Argon2 hashes passwords into PHC strings of the form
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>, with unpadded
// base64. Safe for concurrent use.
type Argon2 struct {
	cfg Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{cfg: cfg}, nil
}

// cost is the part of a hash that decides how expensive it was to compute.
type cost struct {
	memory  uint32
	time    uint32
	threads uint8
}

func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < minPasswordBytes:
		return "", ErrPasswordTooShort
	case len(password) > a.cfg.MaxPasswordBytes:
		return "", ErrPasswordTooLong
	}
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	c := cost{memory: a.cfg.Memory, time: a.cfg.Time, threads: a.cfg.Parallelism}
	key := argon2.IDKey([]byte(password), salt, c.time, c.memory, c.threads, a.cfg.KeyLength)
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, c.memory, c.time, c.threads, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded. A mismatch is
// (false, nil); an error means encoded is unusable or password is oversized.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	c, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, c.time, c.memory, c.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1, nil
}

// NeedsUpgrade reports whether encoded is cheaper than the current config or
// has a different key length.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	c, _, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return c.memory < a.cfg.Memory || c.time < a.cfg.Time || c.threads < a.cfg.Parallelism ||
		uint32(len(key)) != a.cfg.KeyLength, nil
}

func decode(encoded string) (cost, []byte, []byte, error) {
	var c cost
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return c, nil, nil, ErrMalformedHash
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return c, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	params := strings.Split(fields[3], ",")
	if len(params) != 3 {
		return c, nil, nil, fmt.Errorf("%w: want m, t and p parameters", ErrMalformedHash)
	}
	var vals [3]uint64
	for i, name := range []string{"m", "t", "p"} {
		raw, ok := strings.CutPrefix(params[i], name+"=")
		n, err := strconv.ParseUint(raw, 10, 32)
		if !ok || err != nil {
			return c, nil, nil, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, params[i])
		}
		vals[i] = n
	}
	if vals[0] < 8*1024 || vals[1] < 1 || vals[2] < 1 || vals[2] > 255 {
		return c, nil, nil, fmt.Errorf("%w: cost below minimum", ErrMalformedHash)
	}
	c = cost{memory: uint32(vals[0]), time: uint32(vals[1]), threads: uint8(vals[2])}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) < 16 {
		return c, nil, nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) < 16 {
		return c, nil, nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return c, salt, key, nil
}
