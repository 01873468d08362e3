package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func accessClaims(iss, aud string, exp time.Time) AccessClaims {
	return AccessClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    iss,
		Audience:  gjwt.ClaimStrings{aud},
		ExpiresAt: gjwt.NewNumericDate(exp),
		IssuedAt:  gjwt.NewNumericDate(exp.Add(-time.Minute)),
	}}
}

func TestSignParseRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{PrivateKey: priv, PublicKey: pub, Issuer: "authkit"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	raw, err := m.Sign(accessClaims("authkit", "api", time.Now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var got AccessClaims
	if err := m.Parse(raw, &got, ParseOptions{Audience: "api"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.UID != "u1" {
		t.Fatalf("uid = %q", got.UID)
	}
}

func TestParseRejectsWrongIssuerAudienceAndExpiry(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{PrivateKey: priv, PublicKey: pub, Issuer: "authkit", Leeway: 30 * time.Second})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	cases := []struct {
		name   string
		claims AccessClaims
		ok     bool
	}{
		{"valid", accessClaims("authkit", "api", time.Now().Add(time.Minute)), true},
		{"wrong issuer", accessClaims("other", "api", time.Now().Add(time.Minute)), false},
		{"wrong audience", accessClaims("authkit", "other-api", time.Now().Add(time.Minute)), false},
		{"expired within leeway", accessClaims("authkit", "api", time.Now().Add(-15*time.Second)), true},
		{"expired", accessClaims("authkit", "api", time.Now().Add(-2*time.Minute)), false},
	}
	for _, tc := range cases {
		raw, err := m.Sign(tc.claims)
		if err != nil {
			t.Fatalf("%s: sign: %v", tc.name, err)
		}
		var got AccessClaims
		err = m.Parse(raw, &got, ParseOptions{Audience: "api"})
		if tc.ok && err != nil {
			t.Fatalf("%s: expected success, got %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
	}
}

func TestParseSkipExpiryStillChecksAudience(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef"), Issuer: "authkit"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	expired, _ := m.Sign(accessClaims("authkit", "api", time.Now().Add(-time.Hour)))
	var got AccessClaims
	if err := m.Parse(expired, &got, ParseOptions{Audience: "api", SkipExpiry: true}); err != nil {
		t.Fatalf("expected expired token to parse with SkipExpiry: %v", err)
	}
	if err := m.Parse(expired, &got, ParseOptions{Audience: "api"}); err == nil {
		t.Fatal("expected expired token to fail without SkipExpiry")
	}
	if err := m.Parse(expired, &got, ParseOptions{Audience: "state", SkipExpiry: true}); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}

	foreign, _ := m.Sign(accessClaims("other", "api", time.Now().Add(-time.Hour)))
	if err := m.Parse(foreign, &got, ParseOptions{Audience: "api", SkipExpiry: true}); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestParseRejectsAlgorithmSwitch(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, accessClaims("", "api", time.Now().Add(time.Minute)))
	raw, err := tok.SignedString([]byte(pub))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	var got AccessClaims
	if err := m.Parse(raw, &got, ParseOptions{}); err == nil {
		t.Fatal("expected hs256 token to be rejected by an ed25519 manager")
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		PrivateKey: priv1,
		PublicKey:  pub1,
		KeyID:      "k1",
		VerifyKeys: map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := accessClaims("", "api", time.Now().Add(time.Minute))
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	bad, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var got AccessClaims
	if err := m.Parse(bad, &got, ParseOptions{}); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, err := m.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := m.Parse(good, &got, ParseOptions{}); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, err := NewManager(Config{PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if err != nil {
		t.Fatalf("new verify-only manager: %v", err)
	}
	if err := m2.Parse(good, &got, ParseOptions{}); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
	if _, err := m2.Sign(claims); err == nil {
		t.Fatal("expected verify-only manager to refuse signing")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to fail")
	}
	if _, err := NewManager(Config{SigningMethod: "rs512"}); err == nil {
		t.Fatal("expected unsupported method to fail")
	}
	pub, priv := newEdKeys(t)
	if _, err := NewManager(Config{PrivateKey: priv, PublicKey: pub, Leeway: time.Hour}); err == nil {
		t.Fatal("expected oversized leeway to fail")
	}
	if _, err := NewManager(Config{PrivateKey: priv, PublicKey: pub, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}}); err == nil {
		t.Fatal("expected KeyID outside VerifyKeys to fail")
	}
}
