package authkit

import (
	"errors"
	"time"

	"github.com/takahuman/authkit/password"
	"github.com/takahuman/authkit/token"
)

// Config carries every tunable of the credential protocol. It is assembled
// once at process start and injected via the Builder; nothing reads ambient
// state mid-request.
type Config struct {
	// Token codec.
	Issuer        string
	Audience      string
	SigningMethod token.SigningMethod
	Secret        []byte // hs256
	PrivateKey    []byte // ed25519
	PublicKey     []byte // ed25519

	// Lifetimes.
	AccessTTL  time.Duration // minutes-scale
	RefreshTTL time.Duration // days-scale; also the session record TTL
	ResetTTL   time.Duration
	VerifyTTL  time.Duration

	// Refresh session store.
	SessionPrefix string

	// Login lockout, independent of the per-route request limiter.
	LoginMaxAttempts int
	LoginWindow      time.Duration

	Password password.Config
}

// DefaultConfig returns the production defaults: 15 minute access tokens,
// 30 day refresh tokens, lockout after 10 failed logins in 15 minutes.
func DefaultConfig() Config {
	return Config{
		Issuer:           "takahuman-api",
		Audience:         "takahuman-client",
		SigningMethod:    token.MethodHS256,
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       30 * 24 * time.Hour,
		ResetTTL:         time.Hour,
		VerifyTTL:        24 * time.Hour,
		SessionPrefix:    "rt",
		LoginMaxAttempts: 10,
		LoginWindow:      15 * time.Minute,
		Password:         password.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("authkit: access and refresh TTLs must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("authkit: access TTL must be shorter than refresh TTL")
	}
	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		return errors.New("authkit: login lockout must be configured")
	}
	return nil
}

func (c Config) tokenConfig() token.Config {
	return token.Config{
		SigningMethod: c.SigningMethod,
		Secret:        c.Secret,
		PrivateKey:    c.PrivateKey,
		PublicKey:     c.PublicKey,
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		ResetTTL:      c.ResetTTL,
		VerifyTTL:     c.VerifyTTL,
	}
}
