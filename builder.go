package authkit

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/takahuman/authkit/internal/rate"
	"github.com/takahuman/authkit/password"
	"github.com/takahuman/authkit/session"
	"github.com/takahuman/authkit/token"
)

// Builder assembles an Engine from its collaborators. Use it once; the
// resulting Engine is immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  UserStore
	logger *zap.Logger
	built  bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the key-value store used for refresh sessions and the
// login lockout counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the relational collaborator.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("authkit: redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("authkit: user store is required")
	}
	if err := b.config.validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(b.config.tokenConfig())
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b.built = true
	return &Engine{
		config:   b.config,
		codec:    codec,
		sessions: session.NewStore(b.redis, b.config.SessionPrefix, b.config.RefreshTTL),
		limiter:  rate.NewLoginLimiter(b.redis, b.config.LoginMaxAttempts, b.config.LoginWindow),
		hasher:   hasher,
		users:    b.users,
		logger:   logger,
	}, nil
}
