package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/token"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
)

// StrategyFactory resolves the strategy for a request. Most deployments use
// [StaticStrategy].
type StrategyFactory func(ctx context.Context) (strategy.Strategy, error)

// StaticStrategy returns a factory that always yields s.
func StaticStrategy(s strategy.Strategy) StrategyFactory {
	return func(context.Context) (strategy.Strategy, error) {
		return s, nil
	}
}

// Backend pairs a transport with a strategy under a unique name.
type Backend struct {
	Name      string
	Transport transport.Transport
	Strategy  StrategyFactory

	logger *zap.Logger
}

// NewBackend returns a named backend.
func NewBackend(name string, t transport.Transport, s StrategyFactory) *Backend {
	return &Backend{Name: name, Transport: t, Strategy: s}
}

func (b *Backend) log() *zap.Logger {
	if b.logger == nil {
		return zap.NewNop()
	}
	return b.logger
}

func (b *Backend) strategy(ctx context.Context) (strategy.Strategy, error) {
	s, err := b.Strategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStrategyUnavailable, err)
	}
	if s == nil {
		return nil, ErrStrategyUnavailable
	}
	return s, nil
}

// Login mints a token for p with s and formats it with the backend transport.
func (b *Backend) Login(ctx context.Context, s strategy.Strategy, p *user.Principal, side *transport.SideChannel, opts ...strategy.WriteOption) (*token.AccessToken, *transport.Response, error) {
	rec, err := s.WriteToken(ctx, p, opts...)
	if err != nil {
		return nil, nil, err
	}
	resp, err := b.Transport.LoginResponse(rec, side)
	if err != nil {
		return nil, nil, err
	}
	return rec, resp, nil
}

// Logout destroys raw and returns the transport's logout response. It never
// fails: unsupported destroys are expected, other destroy failures are
// logged, and transports without a logout response yield 204.
func (b *Backend) Logout(ctx context.Context, s strategy.Strategy, raw string) *transport.Response {
	if err := s.DestroyToken(ctx, raw); err != nil && !errors.Is(err, strategy.ErrDestroyNotSupported) {
		b.log().Warn("logout destroy failed", zap.String("backend", b.Name), zap.Error(err))
	}
	return b.logoutResponse()
}

func (b *Backend) logoutResponse() *transport.Response {
	resp, err := b.Transport.LogoutResponse()
	if err != nil {
		if !errors.Is(err, transport.ErrLogoutNotSupported) {
			b.log().Warn("logout response failed", zap.String("backend", b.Name), zap.Error(err))
		}
		return transport.NoContent()
	}
	return resp
}
