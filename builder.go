package authgate

import (
	"errors"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	internalaudit "github.com/altinors/authgate/internal/audit"
	"github.com/altinors/authgate/internal/stores"
	"github.com/altinors/authgate/jwt"
	"github.com/altinors/authgate/password"
	"github.com/altinors/authgate/refresh"
)

// Builder assembles an Engine from its collaborators. Build may only
// be called once per Builder.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	users     UserStore
	audits    AuditStore
	auditSink AuditSink
	notifier  Notifier
	hasher    PasswordHasher
	logger    zerolog.Logger
	loggerSet bool
	built     bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client that backs refresh token rotation
// and single-use tokens. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the durable account store. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithAuditStore sets the store audit events are persisted to and
// queried from. When no explicit sink is set, events flow into this
// store.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.audits = store
	return b
}

// WithAuditSink overrides the destination for audit events. Takes
// precedence over the audit store for event delivery; the store, if
// also set, still serves queries.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifier sets the out-of-band token delivery mechanism. Defaults
// to LogNotifier.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithPasswordHasher overrides the default argon2id hasher.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.loggerSet = true
	return b
}

// Build validates the configuration, wires the collaborators, and
// starts the audit dispatcher.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	logger := b.logger
	if !b.loggerSet {
		logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "authgate").Logger()
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher := b.hasher
	if hasher == nil {
		argon, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = argon
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	sink := b.auditSink
	if sink == nil {
		if b.audits != nil {
			sink = internalaudit.NewStoreSink(b.audits)
		} else {
			sink = internalaudit.NoOpSink{}
		}
	}

	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, logger)

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		users:        b.users,
		auditStore:   b.audits,
		refreshStore: refresh.NewStore(b.redis),
		singleUse:    stores.NewSingleUseStore(b.redis),
		jwtManager:   jm,
		hasher:       hasher,
		notifier:     notifier,
		audit:        dispatcher,
		metrics:      NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}
