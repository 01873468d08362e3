package authkit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
)

// Requirements is the per-call-site policy of a decision.
type Requirements struct {
	// Optional turns a failed decision into an anonymous one.
	Optional  bool
	Active    bool
	Verified  bool
	Superuser bool
	Poweruser bool
	// Authorized only accepts MFA-approved tokens. Enforced by the strategy.
	Authorized bool
	// IgnoreExpired accepts expired tokens. Reserved for renew.
	IgnoreExpired bool
}

// Decision is the outcome of an accepted request. A nil Principal means
// anonymous, which only optional requirements produce.
type Decision struct {
	Principal *user.Principal
	Token     string
	Backend   string
}

// Anonymous reports whether no principal was resolved.
func (d Decision) Anonymous() bool {
	return d.Principal == nil
}

// DecisionFunc authenticates a request. Failures are *Rejection errors.
type DecisionFunc func(r *http.Request) (Decision, error)

// BackendResolver narrows the backend list for one request.
type BackendResolver func(r *http.Request, backends []*Backend) []*Backend

// DecisionOption tunes a decision function.
type DecisionOption func(*decisionConfig)

type decisionConfig struct {
	enabledKey string
	resolver   BackendResolver
}

// WithEnabledBackends narrows, per request, which backends are tried. key
// identifies the resolver in the decision cache; the first resolver
// registered under a key is the one used.
func WithEnabledBackends(key string, resolver BackendResolver) DecisionOption {
	return func(c *decisionConfig) {
		c.enabledKey = key
		c.resolver = resolver
	}
}

type decisionKey struct {
	req        Requirements
	enabledKey string
}

// Authenticator resolves the current principal across every backend.
//
// Decision functions are built once per (Requirements, enabled-backends key)
// and reused; an Authenticator is safe for concurrent use.
type Authenticator struct {
	backends []*Backend
	byName   map[string]*Backend
	logger   *zap.Logger
	metrics  *Metrics

	mu    sync.Mutex
	cache map[decisionKey]DecisionFunc
}

// NewAuthenticator validates backends and returns an Authenticator. Duplicate
// names fail with ErrDuplicateBackendNames.
func NewAuthenticator(backends []*Backend, logger *zap.Logger) (*Authenticator, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]*Backend, len(backends))
	for _, b := range backends {
		if b == nil {
			return nil, errors.New("nil backend")
		}
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, errors.New("backend name is required")
		}
		if b.Transport == nil || b.Strategy == nil {
			return nil, fmt.Errorf("backend %q requires a transport and a strategy", name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBackendNames, name)
		}
		byName[name] = b
		if b.logger == nil {
			b.logger = logger.Named("backend")
		}
	}
	return &Authenticator{
		backends: append([]*Backend(nil), backends...),
		byName:   byName,
		logger:   logger.Named("authenticator"),
		cache:    make(map[decisionKey]DecisionFunc),
	}, nil
}

// Backends returns the registered backends in order.
func (a *Authenticator) Backends() []*Backend {
	return append([]*Backend(nil), a.backends...)
}

// Backend returns the backend registered under name.
func (a *Authenticator) Backend(name string) (*Backend, bool) {
	b, ok := a.byName[name]
	return b, ok
}

// CurrentUser returns the decision function for req, building it on first use.
func (a *Authenticator) CurrentUser(req Requirements, opts ...DecisionOption) DecisionFunc {
	var cfg decisionConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	key := decisionKey{req: req, enabledKey: cfg.enabledKey}

	a.mu.Lock()
	defer a.mu.Unlock()
	if fn, ok := a.cache[key]; ok {
		return fn
	}
	backends := a.Backends()
	resolver := cfg.resolver
	fn := func(r *http.Request) (Decision, error) {
		enabled := backends
		if resolver != nil {
			enabled = resolver(r, backends)
		}
		return a.decide(r, req, enabled)
	}
	a.cache[key] = fn
	return fn
}

func (a *Authenticator) cached() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}

func (a *Authenticator) decide(r *http.Request, req Requirements, backends []*Backend) (Decision, error) {
	if a.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { a.metrics.Observe(MetricDecisionLatency, time.Since(start)) }()
	}

	found := a.resolve(r, req, backends)
	if found.Principal == nil {
		return a.fail(req, ReasonNoUser)
	}

	p := found.Principal
	switch {
	case req.Active && !p.Active:
		return a.fail(req, ReasonNoActive)
	case req.Verified && !p.Verified:
		return a.fail(req, ReasonNoVerified)
	case req.Superuser && !p.Superuser:
		return a.fail(req, ReasonNoPermissions)
	case req.Poweruser && !p.Poweruser:
		return a.fail(req, ReasonNoPermissions)
	}
	a.metrics.Inc(MetricAuthSuccess)
	return found, nil
}

// resolve returns the first principal any backend yields. Backend failures
// are logged and the next backend is tried.
func (a *Authenticator) resolve(r *http.Request, req Requirements, backends []*Backend) Decision {
	ctx := r.Context()
	opts := strategy.ReadOptions{Authorized: req.Authorized, IgnoreExpired: req.IgnoreExpired}
	for _, b := range backends {
		raw, ok := b.Transport.Credential(r)
		if !ok {
			continue
		}
		s, err := b.strategy(ctx)
		if err != nil {
			a.metrics.Inc(MetricAuthBackendError)
			a.logger.Warn("strategy unavailable", zap.String("backend", b.Name), zap.Error(err))
			continue
		}
		p, err := s.ReadToken(ctx, raw, opts)
		if err != nil {
			a.metrics.Inc(MetricAuthBackendError)
			a.logger.Warn("token read failed", zap.String("backend", b.Name), zap.Error(err))
			continue
		}
		if p != nil {
			return Decision{Principal: p, Token: raw, Backend: b.Name}
		}
	}
	return Decision{}
}

func (a *Authenticator) fail(req Requirements, reason Reason) (Decision, error) {
	if req.Optional {
		a.metrics.Inc(MetricAuthAnonymous)
		return Decision{}, nil
	}
	a.metrics.Inc(MetricAuthRejected)
	return Decision{}, reject(reason)
}
