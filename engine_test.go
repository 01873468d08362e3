package authkit

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/transport"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func noFactorConfig() Config {
	cfg := testConfig()
	cfg.MFA.Factors = nil
	return cfg
}

func mustResolve(t *testing.T, e *Engine, raw string, req Requirements) Decision {
	t.Helper()
	d, err := e.Authenticator().CurrentUser(req)(bearerRequest(raw))
	if err != nil {
		t.Fatalf("expected %q to resolve, got %v", raw, err)
	}
	return d
}

func mustReject(t *testing.T, e *Engine, raw string, req Requirements) {
	t.Helper()
	if _, err := e.Authenticator().CurrentUser(req)(bearerRequest(raw)); err == nil {
		t.Fatalf("expected %q to be rejected", raw)
	}
}

func TestLoginStartsUnapprovedWithFactors(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res, err := env.engine.Login(context.Background(), "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Access.Scope != token.None {
		t.Fatalf("expected scope none, got %s", res.Access.Scope)
	}
	if !res.Access.MFAScopes.Has(otp.FactorEmail) || res.Access.MFAScopes.Approved(otp.FactorEmail) {
		t.Fatalf("expected unapproved email factor, got %v", res.Access.MFAScopes)
	}
	if res.RefreshToken == "" {
		t.Fatal("expected refresh token")
	}
	if res.Response == nil || res.Response.Status != http.StatusOK {
		t.Fatalf("expected bearer login response, got %+v", res.Response)
	}
	body, ok := res.Response.Body.(transport.BearerResponse)
	if !ok || body.AccessToken != res.Access.Token || body.RefreshToken != res.RefreshToken {
		t.Fatalf("unexpected login body %+v", res.Response.Body)
	}
}

func TestLoginApprovedWithoutFactors(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())

	res, err := env.engine.Login(context.Background(), "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Access.Scope != token.Approved {
		t.Fatalf("expected approved scope, got %s", res.Access.Scope)
	}
	mustResolve(t, env.engine, res.Access.Token, Requirements{Authorized: true})

	if env.engine.MFAEnabled() {
		t.Fatal("expected MFA disabled")
	}
	if _, err := env.engine.SendOTP(context.Background(), res.Access.Token, otp.FactorEmail); !errors.Is(err, ErrMFADisabled) {
		t.Fatalf("expected ErrMFADisabled, got %v", err)
	}
}

func TestLoginUnknownBackend(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.engine.Login(context.Background(), "nope", principal(t, env.users, "u1"))
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 0 {
		t.Fatalf("expected no login success, got %d", got)
	}
}

func TestLoginSendValidateApproves(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	mustReject(t, env.engine, login.Access.Token, Requirements{Authorized: true})

	sent, err := env.engine.SendOTP(ctx, login.Access.Token, otp.FactorEmail)
	if err != nil || sent.Outcome != otp.OutcomeSent {
		t.Fatalf("send: %+v, %v", sent, err)
	}
	code := env.notifier.last(t).Code

	rec, err := env.engine.ValidateOTP(ctx, login.Access.Token, otp.FactorEmail, code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rec.Scope != token.Approved || !rec.MFAScopes.Approved(otp.FactorEmail) {
		t.Fatalf("expected approved record, got %+v", rec)
	}
	d := mustResolve(t, env.engine, login.Access.Token, Requirements{Active: true, Authorized: true})
	if d.Principal.ID != "u1" {
		t.Fatalf("expected u1, got %s", d.Principal.ID)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricOTPSent] != 1 || snap.Counters[MetricOTPValidated] != 1 {
		t.Fatalf("unexpected otp counters %+v", snap.Counters)
	}
}

func TestValidateOTPWrongCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.SendOTP(ctx, login.Access.Token, otp.FactorEmail); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := env.notifier.last(t).Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	if _, err := env.engine.ValidateOTP(ctx, login.Access.Token, otp.FactorEmail, wrong); !errors.Is(err, otp.ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	mustReject(t, env.engine, login.Access.Token, Requirements{Authorized: true})
	if got := env.engine.MetricsSnapshot().Counters[MetricOTPFailed]; got != 1 {
		t.Fatalf("expected one failed validation, got %d", got)
	}
}

func TestRenewCarriesScopesAndDestroysOld(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.SendOTP(ctx, login.Access.Token, otp.FactorEmail); err != nil {
		t.Fatalf("send: %v", err)
	}
	approved, err := env.engine.ValidateOTP(ctx, login.Access.Token, otp.FactorEmail, env.notifier.last(t).Code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	res, err := env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if res.Access.Token == login.Access.Token {
		t.Fatal("expected a new access token")
	}
	if res.RefreshToken != "" {
		t.Fatal("expected no rotated refresh token by default")
	}
	if res.Backend != "db" {
		t.Fatalf("expected db backend, got %s", res.Backend)
	}
	if res.Access.Scope != token.Approved || !reflect.DeepEqual(res.Access.MFAScopes, approved.MFAScopes) {
		t.Fatalf("expected carried scopes %v, got %s %v", approved.MFAScopes, res.Access.Scope, res.Access.MFAScopes)
	}

	mustReject(t, env.engine, login.Access.Token, Requirements{})
	d := mustResolve(t, env.engine, res.Access.Token, Requirements{Authorized: true})
	if d.Principal.ID != "u1" {
		t.Fatalf("expected u1, got %s", d.Principal.ID)
	}

	// Without rotation the refresh token stays usable.
	if _, err := env.engine.Renew(ctx, bearerRequest(res.Access.Token), login.RefreshToken); err != nil {
		t.Fatalf("second renew: %v", err)
	}
}

func TestRenewAcceptsExpiredApprovedToken(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	expired := &token.AccessToken{
		Token:     "expired-access-token",
		UserID:    "u1",
		CreatedAt: time.Now().Add(-2 * time.Hour).UTC(),
		Scope:     token.Approved,
		MFAScopes: token.MFAScopes{},
	}
	if err := env.store.CreateAccessToken(ctx, expired); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mustReject(t, env.engine, expired.Token, Requirements{})

	res, err := env.engine.Renew(ctx, bearerRequest(expired.Token), login.RefreshToken)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	mustResolve(t, env.engine, res.Access.Token, Requirements{Authorized: true})
}

func TestRenewRejectsUnapprovedToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken)
	if !errors.Is(err, ErrWrongAccessToken) {
		t.Fatalf("expected ErrWrongAccessToken, got %v", err)
	}
	mustResolve(t, env.engine, login.Access.Token, Requirements{})
	if got := env.engine.MetricsSnapshot().Counters[MetricRenewFailure]; got != 1 {
		t.Fatalf("expected one renew failure, got %d", got)
	}
}

func TestRenewChecksRefreshFirst(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())
	ctx := context.Background()

	_, err := env.engine.Renew(ctx, bearerRequest(""), "not-a-refresh-token")
	if !errors.Is(err, ErrWrongRefreshToken) {
		t.Fatalf("expected ErrWrongRefreshToken, got %v", err)
	}

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = env.engine.Renew(ctx, bearerRequest(""), login.RefreshToken)
	if !errors.Is(err, ErrWrongAccessToken) {
		t.Fatalf("expected ErrWrongAccessToken, got %v", err)
	}
}

func TestRenewOwnerMismatch(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())
	ctx := context.Background()

	alice, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login u1: %v", err)
	}
	bob, err := env.engine.Login(ctx, "db", principal(t, env.users, "u2"))
	if err != nil {
		t.Fatalf("login u2: %v", err)
	}

	_, err = env.engine.Renew(ctx, bearerRequest(alice.Access.Token), bob.RefreshToken)
	if !errors.Is(err, ErrWrongRefreshToken) {
		t.Fatalf("expected ErrWrongRefreshToken, got %v", err)
	}
	mustResolve(t, env.engine, alice.Access.Token, Requirements{})
}

func TestRenewStatelessTokenIsNeverAuthorized(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "jwt", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken)
	if !errors.Is(err, ErrWrongAccessToken) {
		t.Fatalf("expected ErrWrongAccessToken, got %v", err)
	}
}

func TestRenewOnRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := noFactorConfig()
	rs, err := strategy.NewRedis(strategy.RedisConfig{Client: rdb, Users: testUsers(), Lifetime: cfg.Access.Lifetime})
	if err != nil {
		t.Fatalf("redis strategy: %v", err)
	}
	env := newTestEnv(t, cfg, func(b *Builder) {
		b.WithBackend(NewBackend("redis", transport.NewBearer(), StaticStrategy(rs)))
	})
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "redis", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !login.Access.Scope.IsApproved() {
		t.Fatalf("expected approved scope without factors, got %s", login.Access.Scope)
	}
	mustResolve(t, env.engine, login.Access.Token, Requirements{Authorized: true})

	res, err := env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if res.Backend != "redis" {
		t.Fatalf("expected redis backend, got %s", res.Backend)
	}
	mustReject(t, env.engine, login.Access.Token, Requirements{})
	mustResolve(t, env.engine, res.Access.Token, Requirements{Authorized: true})
}

func TestRenewRotateOnUse(t *testing.T) {
	cfg := noFactorConfig()
	cfg.Refresh.RotateOnUse = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	res, err := env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if res.RefreshToken == "" || res.RefreshToken == login.RefreshToken {
		t.Fatalf("expected a rotated refresh token, got %q", res.RefreshToken)
	}

	_, err = env.engine.Renew(ctx, bearerRequest(res.Access.Token), login.RefreshToken)
	if !errors.Is(err, ErrWrongRefreshToken) {
		t.Fatalf("expected old refresh token to be revoked, got %v", err)
	}
	if _, err := env.engine.Renew(ctx, bearerRequest(res.Access.Token), res.RefreshToken); err != nil {
		t.Fatalf("renew with rotated token: %v", err)
	}
}

func TestLogoutWithoutDestroySupportReturnsNoContent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "jwt", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp, err := env.engine.Logout(ctx, "jwt", login.Access.Token)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if resp.Status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Status)
	}
	// Stateless tokens outlive logout.
	mustResolve(t, env.engine, login.Access.Token, Requirements{})
}

func TestLogoutDestroysStatefulToken(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp, err := env.engine.Logout(ctx, "db", login.Access.Token)
	if err != nil || resp.Status != http.StatusNoContent {
		t.Fatalf("expected 204, got %+v, %v", resp, err)
	}
	mustReject(t, env.engine, login.Access.Token, Requirements{})

	if _, err := env.engine.Logout(ctx, "nope", login.Access.Token); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, noFactorConfig())
	ctx := context.Background()
	p := principal(t, env.users, "u1")

	first, err := env.engine.Login(ctx, "db", p)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := env.engine.Login(ctx, "db", p)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other, err := env.engine.Login(ctx, "db", principal(t, env.users, "u2"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.engine.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	mustReject(t, env.engine, first.Access.Token, Requirements{})
	mustReject(t, env.engine, second.Access.Token, Requirements{})
	mustResolve(t, env.engine, other.Access.Token, Requirements{})

	if _, err := env.engine.Renew(ctx, bearerRequest(other.Access.Token), first.RefreshToken); !errors.Is(err, ErrWrongRefreshToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
}

func TestEngineAuditEventsCarryNoSecrets(t *testing.T) {
	cfg := noFactorConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 16}
	sink := NewChannelSink(16)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	login, err := env.engine.Login(ctx, "db", principal(t, env.users, "u1"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.Renew(ctx, bearerRequest(login.Access.Token), login.RefreshToken); err != nil {
		t.Fatalf("renew: %v", err)
	}
	env.engine.Close()

	var events []AuditEvent
	timeout := time.After(2 * time.Second)
	for len(events) < 2 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("expected two events, got %d", len(events))
		}
	}

	if events[0].EventType != AuditLoginSuccess || events[1].EventType != AuditRenewSuccess {
		t.Fatalf("unexpected events %+v", events)
	}
	for _, ev := range events {
		if ev.IP != "203.0.113.7" || ev.UserID != "u1" || ev.Backend != "db" {
			t.Fatalf("unexpected event fields %+v", ev)
		}
		dump := ev.Error
		for k, v := range ev.Metadata {
			dump += k + v
		}
		if strings.Contains(dump, login.Access.Token) || strings.Contains(dump, login.RefreshToken) {
			t.Fatalf("event leaked a token: %+v", ev)
		}
	}
}
