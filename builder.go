package authkit

import (
	"errors"

	"github.com/MrEthical07/authkit/internal/flows"
	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/refresh"
	"github.com/MrEthical07/authkit/token"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, then discard it.
type Builder struct {
	config   Config
	store    token.Store
	backends []*Backend

	notifier otp.Notifier
	secrets  otp.SecretProvider
	limiter  otp.AttemptLimiter

	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the token store holding refresh tokens and OTP codes. When a
// database strategy is used it must share this store so MFA approval reaches
// the access records it reads.
func (b *Builder) WithStore(s token.Store) *Builder {
	b.store = s
	return b
}

// WithBackend appends a backend. Order is the order the authenticator tries
// them in.
func (b *Builder) WithBackend(backend *Backend) *Builder {
	b.backends = append(b.backends, backend)
	return b
}

// WithBackends appends several backends in order.
func (b *Builder) WithBackends(backends ...*Backend) *Builder {
	b.backends = append(b.backends, backends...)
	return b
}

// WithNotifier sets how email and SMS codes are delivered.
func (b *Builder) WithNotifier(n otp.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithSecretProvider supplies authenticator-app secrets. Required when the
// authenticator factor is configured.
func (b *Builder) WithSecretProvider(p otp.SecretProvider) *Builder {
	b.secrets = p
	return b
}

// WithAttemptLimiter caps failed OTP validations, see [otp.NewRedisLimiter].
func (b *Builder) WithAttemptLimiter(l otp.AttemptLimiter) *Builder {
	b.limiter = l
	return b
}

// WithLogger sets the logger. Nil or unset means zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the sink; it only receives events when audit is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters read by
// Engine.MetricsSnapshot.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms adds decision latency buckets to the metrics.
// It has no effect unless metrics are enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can only
// be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("token store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("authkit")

	auth, err := NewAuthenticator(b.backends, logger)
	if err != nil {
		return nil, err
	}

	rm, err := refresh.NewManager(b.store, cfg.Refresh.Lifetime, refresh.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		auth:    auth,
		refresh: rm,
		logger:  logger.Named("engine"),
		audit:   newAuditQueue(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}
	auth.metrics = engine.metrics

	if len(cfg.MFA.Factors) > 0 {
		om, err := otp.NewManager(cfg.MFA, otp.Deps{
			Access:   b.store,
			Codes:    b.store,
			Notifier: b.notifier,
			Secrets:  b.secrets,
			Limiter:  b.limiter,
			Logger:   logger,

			AccessMaxAge: cfg.Access.Lifetime,
		})
		if err != nil {
			engine.audit.Close()
			return nil, err
		}
		engine.otp = om
	}

	engine.renewDecision = auth.CurrentUser(Requirements{Active: true, Authorized: true, IgnoreExpired: true})
	engine.flows = flows.Deps{Renew: engine.renewDeps()}

	b.built = true

	return engine, nil
}
