package vikauth

import (
	"errors"
	"time"

	"github.com/armanmishra1000/AirvikBook-sub000/internal/rate"
	"github.com/armanmishra1000/AirvikBook-sub000/internal/stores"
	"github.com/armanmishra1000/AirvikBook-sub000/jwt"
	"github.com/armanmishra1000/AirvikBook-sub000/password"
	"github.com/armanmishra1000/AirvikBook-sub000/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Chain the With methods and finish with
// Build; a builder is single use.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	provider  AccountProvider
	notifier  Notifier
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a [Builder] seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration tree. The config is deep
// copied, so later mutation of cfg does not affect the builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client backing sessions, rate limits, reset
// challenges, and password history.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider supplies the host application's account storage.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.provider = p
	return b
}

// WithNotifier supplies the security-notification channel. Nil means
// notifications are discarded.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink supplies the destination for audit events. Only honored when
// audit is enabled in config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine clock. Intended for tests; nil keeps
// time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the access-validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every store against the supplied
// Redis client, and returns the ready [Engine].
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("account provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = NoOpNotifier{}
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		provider: b.provider,
		notifier: notifier,
		now:      clock,
	}

	// -------- SESSION STORE --------
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, clock)

	// -------- RATE LIMITER --------
	engine.limiter = rate.New(b.redis, cfg.RateLimits.RedisPrefix, clock)

	// -------- RESET + HISTORY STORES --------
	engine.resetStore = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix, clock)
	engine.history = stores.NewPasswordHistoryStore(b.redis, "", cfg.Password.Policy.HistoryDepth)

	// -------- AUDIT + METRICS --------
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewHasher(password.HashConfig{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// -------- TOKEN MANAGER --------
	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = manager

	b.built = true

	return engine, nil
}
