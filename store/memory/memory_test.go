package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/store/storetest"
	"github.com/MrEthical07/authkit/token"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) token.Store { return New() })
}

func TestExpiredOTPIsNotStored(t *testing.T) {
	s := New()
	now := time.Now()
	err := s.CreateOTP(context.Background(), &token.OTP{
		AccessToken: "a", Factor: "email", Code: "123456",
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create otp: %v", err)
	}
	if _, err := s.FindOTP(context.Background(), "a", "email", "123456"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected expired code to be absent, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetAccessToken(ctx, "x", token.Query{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
