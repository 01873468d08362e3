// Package storetest is a conformance suite for [token.Store] implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/token"
)

// Run exercises every Store operation against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) token.Store) {
	t.Helper()
	t.Run("AccessLifecycle", func(t *testing.T) { testAccessLifecycle(t, newStore(t)) })
	t.Run("AccessFilters", func(t *testing.T) { testAccessFilters(t, newStore(t)) })
	t.Run("AccessOwnerDelete", func(t *testing.T) { testAccessOwnerDelete(t, newStore(t)) })
	t.Run("RefreshLifecycle", func(t *testing.T) { testRefreshLifecycle(t, newStore(t)) })
	t.Run("RefreshConsumeOnce", func(t *testing.T) { testRefreshConsumeOnce(t, newStore(t)) })
	t.Run("OTPReplace", func(t *testing.T) { testOTPReplace(t, newStore(t)) })
}

func mustToken(t *testing.T) string {
	t.Helper()
	raw, err := token.Generate(token.DefaultTokenBytes)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return raw
}

func newAccess(t *testing.T, userID string, createdAt time.Time, scope token.Scope) *token.AccessToken {
	t.Helper()
	return &token.AccessToken{
		Token:     mustToken(t),
		UserID:    userID,
		CreatedAt: createdAt,
		Scope:     scope,
		MFAScopes: token.NewMFAScopes([]string{"email"}),
	}
}

func testAccessLifecycle(t *testing.T, s token.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	rec := newAccess(t, "u1", now, token.None)
	if err := s.CreateAccessToken(ctx, rec); err != nil {
		t.Fatalf("create access: %v", err)
	}

	got, err := s.GetAccessToken(ctx, rec.Token, token.Query{MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("get access: %v", err)
	}
	if got.UserID != "u1" || got.Scope != token.None {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.MFAScopes.Has("email") || got.MFAScopes.Approved("email") {
		t.Fatalf("unexpected mfa scopes: %v", got.MFAScopes)
	}
	if d := got.CreatedAt.Sub(now); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("created_at drifted by %v", d)
	}

	approved := token.Approved
	updated, err := s.UpdateAccessToken(ctx, got, token.AccessPatch{
		Scope:     &approved,
		MFAScopes: got.MFAScopes.Approve("email"),
	})
	if err != nil {
		t.Fatalf("update access: %v", err)
	}
	if !updated.Scope.IsApproved() || !updated.MFAScopes.Approved("email") {
		t.Fatalf("update not applied: %+v", updated)
	}
	again, err := s.GetAccessToken(ctx, rec.Token, token.Query{Authorized: true})
	if err != nil {
		t.Fatalf("get updated access: %v", err)
	}
	if !again.MFAScopes.Approved("email") {
		t.Fatal("update was not persisted")
	}

	if err := s.DeleteAccessToken(ctx, rec.Token); err != nil {
		t.Fatalf("delete access: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, rec.Token, token.Query{}); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteAccessToken(ctx, rec.Token); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := s.UpdateAccessToken(ctx, rec, token.AccessPatch{Scope: &approved}); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating a deleted token, got %v", err)
	}
}

func testAccessFilters(t *testing.T, s token.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	stale := newAccess(t, "u1", now.Add(-2*time.Hour), token.Approved)
	pending := newAccess(t, "u1", now, token.None)
	for _, rec := range []*token.AccessToken{stale, pending} {
		if err := s.CreateAccessToken(ctx, rec); err != nil {
			t.Fatalf("create access: %v", err)
		}
	}

	cases := []struct {
		name  string
		raw   string
		query token.Query
		found bool
	}{
		{"stale rejected by max age", stale.Token, token.Query{MaxAge: time.Hour}, false},
		{"stale accepted when expiry ignored", stale.Token, token.Query{MaxAge: time.Hour, IgnoreExpired: true}, true},
		{"stale authorized when expiry ignored", stale.Token, token.Query{MaxAge: time.Hour, IgnoreExpired: true, Authorized: true}, true},
		{"pending accepted", pending.Token, token.Query{MaxAge: time.Hour}, true},
		{"pending rejected when authorized", pending.Token, token.Query{MaxAge: time.Hour, Authorized: true}, false},
		{"pending rejected when authorized and expiry ignored", pending.Token, token.Query{Authorized: true, IgnoreExpired: true}, false},
		{"unknown", "missing", token.Query{}, false},
	}
	for _, tc := range cases {
		_, err := s.GetAccessToken(ctx, tc.raw, tc.query)
		if tc.found && err != nil {
			t.Fatalf("%s: expected record, got %v", tc.name, err)
		}
		if !tc.found && !errors.Is(err, token.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", tc.name, err)
		}
	}
}

func testAccessOwnerDelete(t *testing.T, s token.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	a1 := newAccess(t, "u1", now, token.None)
	a2 := newAccess(t, "u1", now, token.None)
	other := newAccess(t, "u2", now, token.None)
	for _, rec := range []*token.AccessToken{a1, a2, other} {
		if err := s.CreateAccessToken(ctx, rec); err != nil {
			t.Fatalf("create access: %v", err)
		}
	}

	if err := s.DeleteAccessTokensForOwner(ctx, "u1"); err != nil {
		t.Fatalf("delete for owner: %v", err)
	}
	for _, rec := range []*token.AccessToken{a1, a2} {
		if _, err := s.GetAccessToken(ctx, rec.Token, token.Query{}); !errors.Is(err, token.ErrNotFound) {
			t.Fatalf("expected owner token to be gone, got %v", err)
		}
	}
	if _, err := s.GetAccessToken(ctx, other.Token, token.Query{}); err != nil {
		t.Fatalf("other owner must keep its token: %v", err)
	}
	if err := s.DeleteAccessTokensForOwner(ctx, "nobody"); err != nil {
		t.Fatalf("delete for unknown owner: %v", err)
	}
}

func testRefreshLifecycle(t *testing.T, s token.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	fresh := &token.RefreshToken{Token: token.HashKey(mustToken(t)), UserID: "u1", CreatedAt: now}
	old := &token.RefreshToken{Token: token.HashKey(mustToken(t)), UserID: "u1", CreatedAt: now.Add(-48 * time.Hour)}
	other := &token.RefreshToken{Token: token.HashKey(mustToken(t)), UserID: "u2", CreatedAt: now}
	for _, rec := range []*token.RefreshToken{fresh, old, other} {
		if err := s.CreateRefreshToken(ctx, rec); err != nil {
			t.Fatalf("create refresh: %v", err)
		}
	}

	got, err := s.GetRefreshToken(ctx, fresh.Token, 24*time.Hour)
	if err != nil {
		t.Fatalf("get refresh: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("unexpected owner %q", got.UserID)
	}
	if _, err := s.GetRefreshToken(ctx, old.Token, 24*time.Hour); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected expired refresh token to be hidden, got %v", err)
	}

	if err := s.DeleteRefreshToken(ctx, fresh.Token); err != nil {
		t.Fatalf("delete refresh: %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, fresh.Token, 0); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if err := s.DeleteRefreshTokensForOwner(ctx, "u1"); err != nil {
		t.Fatalf("delete refresh for owner: %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, old.Token, 0); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected owner refresh tokens to be gone, got %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, other.Token, 0); err != nil {
		t.Fatalf("other owner must keep its refresh token: %v", err)
	}
}

func testRefreshConsumeOnce(t *testing.T, s token.Store) {
	ctx := context.Background()
	rec := &token.RefreshToken{Token: token.HashKey(mustToken(t)), UserID: "u1", CreatedAt: time.Now().UTC()}
	if err := s.CreateRefreshToken(ctx, rec); err != nil {
		t.Fatalf("create refresh: %v", err)
	}

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ConsumeRefreshToken(ctx, rec.Token)
			switch {
			case err == nil:
				if got.UserID != "u1" {
					t.Errorf("consumed record has owner %q", got.UserID)
				}
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, token.ErrNotFound):
				t.Errorf("consume: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one consumer, got %d", wins)
	}
	if _, err := s.GetRefreshToken(ctx, rec.Token, 0); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected consumed token to be gone, got %v", err)
	}
	if _, err := s.ConsumeRefreshToken(ctx, rec.Token); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second consume, got %v", err)
	}
}

func testOTPReplace(t *testing.T, s token.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	access := mustToken(t)
	first := &token.OTP{AccessToken: access, Factor: "email", Code: "111111", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	second := &token.OTP{AccessToken: access, Factor: "email", Code: "222222", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	sms := &token.OTP{AccessToken: access, Factor: "sms", Code: "333333", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	for _, rec := range []*token.OTP{first, second, sms} {
		if err := s.CreateOTP(ctx, rec); err != nil {
			t.Fatalf("create otp: %v", err)
		}
	}

	if _, err := s.FindOTP(ctx, access, "email", "111111"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("first code must be replaced, got %v", err)
	}
	got, err := s.FindOTP(ctx, access, "email", "222222")
	if err != nil {
		t.Fatalf("find otp: %v", err)
	}
	if got.Expired(now) {
		t.Fatal("fresh code reported as expired")
	}
	if _, err := s.FindOTP(ctx, access, "email", "333333"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("codes must not match across factors, got %v", err)
	}
	for _, near := range []string{"22222", "2222222", "222223", ""} {
		if _, err := s.FindOTP(ctx, access, "email", near); !errors.Is(err, token.ErrNotFound) {
			t.Fatalf("code %q must not match 222222, got %v", near, err)
		}
	}

	if err := s.DeleteOTP(ctx, access, "email"); err != nil {
		t.Fatalf("delete otp: %v", err)
	}
	if _, err := s.FindOTP(ctx, access, "email", "222222"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.FindOTP(ctx, access, "sms", "333333"); err != nil {
		t.Fatalf("sms code must survive email delete: %v", err)
	}
}
