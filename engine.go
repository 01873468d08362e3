package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/authkit/internal/flows"
	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/refresh"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
)

// Engine ties the authenticator, refresh tokens and the MFA challenge
// together. Build one with [New] and reuse it; it is safe for concurrent use.
type Engine struct {
	config  Config
	auth    *Authenticator
	refresh *refresh.Manager
	otp     *otp.Manager
	logger  *zap.Logger
	audit   *auditQueue
	metrics *Metrics
	flows   flows.Deps

	renewDecision DecisionFunc
}

// LoginResult is what a successful login hands back to the caller.
type LoginResult struct {
	Access       *token.AccessToken
	RefreshToken string
	// Response is the backend transport's rendering of the login.
	Response *transport.Response
}

// RenewResult is a renewed access token. RefreshToken is only set when
// rotate-on-use is enabled.
type RenewResult struct {
	Access       *token.AccessToken
	RefreshToken string
	Backend      string
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Authenticator returns the engine's authenticator.
func (e *Engine) Authenticator() *Authenticator {
	return e.auth
}

// Backend returns the backend registered under name.
func (e *Engine) Backend(name string) (*Backend, bool) {
	return e.auth.Backend(name)
}

// MFAEnabled reports whether at least one factor is configured.
func (e *Engine) MFAEnabled() bool {
	return e.otp != nil
}

// Login issues an access token for p through the named backend and a refresh
// token. With MFA factors configured the access token starts unapproved.
func (e *Engine) Login(ctx context.Context, backendName string, p *user.Principal) (*LoginResult, error) {
	b, ok := e.auth.Backend(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backendName)
	}
	if p == nil || p.ID == "" {
		return nil, errors.New("login requires a principal")
	}

	s, err := b.strategy(ctx)
	if err != nil {
		e.loginFailed(ctx, backendName, p.ID, err)
		return nil, err
	}

	issued, err := e.refresh.Issue(ctx, p.ID)
	if err != nil {
		e.loginFailed(ctx, backendName, p.ID, err)
		return nil, err
	}

	factors := e.config.MFA.Factors
	mfa := token.NewMFAScopes(factors)
	side := &transport.SideChannel{RefreshToken: issued.Raw, RefreshMaxAge: e.refresh.Lifetime()}
	rec, resp, err := b.Login(ctx, s, p, side, strategy.WithScopes(otp.ScopeFor(mfa, factors), mfa))
	if err != nil {
		if rerr := e.refresh.Revoke(ctx, issued.Raw); rerr != nil {
			e.logger.Warn("revoke refresh after failed login", zap.String("user_id", p.ID), zap.Error(rerr))
		}
		e.loginFailed(ctx, backendName, p.ID, err)
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLoginSuccess, true, p.ID, backendName, nil, map[string]string{
		"scope": rec.Scope.String(),
	})
	return &LoginResult{Access: rec, RefreshToken: issued.Raw, Response: resp}, nil
}

func (e *Engine) loginFailed(ctx context.Context, backendName, userID string, err error) {
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLoginFailure, false, userID, backendName, err, nil)
}

// Logout destroys raw through the named backend. Only an unknown backend is
// an error; every strategy failure is logged and a response is still
// returned.
func (e *Engine) Logout(ctx context.Context, backendName, raw string) (*transport.Response, error) {
	b, ok := e.auth.Backend(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backendName)
	}

	e.metrics.Inc(MetricLogout)
	s, err := b.strategy(ctx)
	if err != nil {
		e.logger.Warn("logout without strategy", zap.String("backend", backendName), zap.Error(err))
		e.emitAudit(ctx, AuditLogout, false, "", backendName, err, nil)
		return b.logoutResponse(), nil
	}
	e.emitAudit(ctx, AuditLogout, true, "", backendName, nil, nil)
	return b.Logout(ctx, s, raw), nil
}

// LogoutAll revokes every refresh token of userID and every access token held
// by strategies that can enumerate tokens by owner. Stateless tokens stay
// valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("logout all requires a user id")
	}
	var errs []error
	for _, b := range e.auth.Backends() {
		s, err := b.strategy(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		revoker, ok := s.(strategy.OwnerRevoker)
		if !ok {
			continue
		}
		if err := revoker.DestroyTokensForOwner(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", b.Name, err))
		}
	}
	if err := e.refresh.RevokeAll(ctx, userID); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, err == nil, userID, "", err, nil)
	return err
}

// Renew exchanges refreshRaw and the approved, possibly expired access token
// carried by r for a new access token. The refresh token is checked first.
func (e *Engine) Renew(ctx context.Context, r *http.Request, refreshRaw string) (*RenewResult, error) {
	deps := e.flows.Renew
	deps.Authenticate = func(ctx context.Context) (*flows.RenewCaller, bool) {
		d, err := e.renewDecision(r.WithContext(ctx))
		if err != nil || d.Principal == nil {
			return nil, false
		}
		return &flows.RenewCaller{Principal: d.Principal, Token: d.Token, Backend: d.Backend}, true
	}

	res := flows.RunRenew(ctx, refreshRaw, deps)
	if res.Failure != flows.RenewFailureNone {
		err := renewError(res)
		e.metrics.Inc(MetricRenewFailure)
		e.emitAudit(ctx, AuditRenewFailure, false, res.UserID, res.Backend, err, nil)
		return nil, err
	}

	e.metrics.Inc(MetricRenewSuccess)
	e.emitAudit(ctx, AuditRenewSuccess, true, res.UserID, res.Backend, nil, map[string]string{
		"rotated": fmt.Sprint(res.RefreshToken != ""),
	})
	return &RenewResult{Access: res.Access, RefreshToken: res.RefreshToken, Backend: res.Backend}, nil
}

func renewError(res flows.RenewResult) error {
	switch res.Failure {
	case flows.RenewFailureRefreshInvalid, flows.RenewFailureOwnerMismatch:
		return ErrWrongRefreshToken
	case flows.RenewFailureAccessInvalid:
		return ErrWrongAccessToken
	default:
		if res.Err == nil {
			return errors.New("renew failed")
		}
		return res.Err
	}
}

// SendOTP issues a code for factor on the access token raw.
func (e *Engine) SendOTP(ctx context.Context, raw, factor string) (otp.SendResult, error) {
	if e.otp == nil {
		return otp.SendResult{}, ErrMFADisabled
	}
	res, err := e.otp.Send(ctx, raw, factor)
	if err != nil {
		return otp.SendResult{}, err
	}
	if res.Outcome == otp.OutcomeSent {
		e.metrics.Inc(MetricOTPSent)
		e.emitAudit(ctx, AuditOTPSent, true, "", "", nil, map[string]string{"factor": factor})
	}
	return res, nil
}

// ValidateOTP approves factor on the access token raw when code matches.
func (e *Engine) ValidateOTP(ctx context.Context, raw, factor, code string) (*token.AccessToken, error) {
	if e.otp == nil {
		return nil, ErrMFADisabled
	}
	rec, err := e.otp.Validate(ctx, raw, factor, code)
	if err != nil {
		e.metrics.Inc(MetricOTPFailed)
		e.emitAudit(ctx, AuditOTPFailed, false, "", "", err, map[string]string{"factor": factor})
		return nil, err
	}
	e.metrics.Inc(MetricOTPValidated)
	e.emitAudit(ctx, AuditOTPValidated, true, rec.UserID, "", nil, map[string]string{
		"factor": factor,
		"scope":  rec.Scope.String(),
	})
	return rec, nil
}

// RecordOAuth counts an OAuth outcome. The oauth package reports through it.
func (e *Engine) RecordOAuth(provider string, stateRejected bool) {
	if stateRejected {
		e.metrics.Inc(MetricOAuthStateRejected)
		e.logger.Info("oauth state rejected", zap.String("provider", provider))
		return
	}
	e.metrics.Inc(MetricOAuthLogin)
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	e.audit.Close()
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, backend string, err error, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Backend:   backend,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.Emit(ctx, event)
}

// renewStrategy carries the previous token's scopes into the new one.
type renewStrategy struct {
	strategy.Strategy
}

func (s renewStrategy) WriteRenewed(ctx context.Context, p *user.Principal, old *token.AccessToken) (*token.AccessToken, error) {
	return s.WriteToken(ctx, p, strategy.WithScopes(old.Scope, old.MFAScopes))
}

func (e *Engine) renewDeps() flows.RenewDeps {
	deps := flows.RenewDeps{
		ValidateRefresh: func(ctx context.Context, raw string) (*token.RefreshToken, bool, error) {
			rec, err := e.refresh.Validate(ctx, raw)
			if errors.Is(err, refresh.ErrInvalid) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return rec, true, nil
		},
		Strategy: func(ctx context.Context, backend string) (flows.RenewStrategy, error) {
			b, ok := e.auth.Backend(backend)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
			}
			s, err := b.strategy(ctx)
			if err != nil {
				return nil, err
			}
			return renewStrategy{s}, nil
		},
		DestroyNotSupported: strategy.ErrDestroyNotSupported,
		Warn: func(msg, userID string, err error) {
			e.logger.Warn(msg, zap.String("user_id", userID), zap.Error(err))
		},
	}
	if e.config.Refresh.RotateOnUse {
		deps.RotateRefresh = func(ctx context.Context, raw string) (string, error) {
			issued, err := e.refresh.Rotate(ctx, raw)
			if errors.Is(err, refresh.ErrInvalid) {
				// A concurrent renew consumed the token first.
				return "", ErrWrongRefreshToken
			}
			if err != nil {
				return "", err
			}
			return issued.Raw, nil
		}
	}
	return deps
}
