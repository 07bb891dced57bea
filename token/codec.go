package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT signing algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a symmetric secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// Token type discriminators. Every token carries a typ claim and every
// verifier checks it explicitly; an access token is never accepted where a
// refresh token is expected, and vice versa.
const (
	TypeAccess        = "access"
	TypeRefresh       = "refresh"
	TypePasswordReset = "password-reset"
	TypeEmailVerify   = "email-verify"
)

// ErrInvalidToken is returned for any verification failure: bad signature,
// expiry, wrong issuer/audience, or typ mismatch. Callers must not surface
// the distinction to clients.
var ErrInvalidToken = errors.New("invalid token")

// Config holds the signing key material and per-type lifetimes. It is
// constructed once at process start and never mutated afterwards.
type Config struct {
	SigningMethod SigningMethod
	Secret        []byte // hs256
	PrivateKey    []byte // ed25519
	PublicKey     []byte // ed25519

	Issuer   string
	Audience string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	VerifyTTL  time.Duration

	Leeway time.Duration
}

// Codec signs and verifies the four token shapes used by the credential
// protocol. A Codec is immutable and safe for concurrent use.
type Codec struct {
	config Config
}

// AccessClaims is the payload of a short-lived access token. Validity is
// proven by signature and expiry alone plus a live tokenVersion comparison
// performed by the caller; there is no server-side record.
type AccessClaims struct {
	TokenVersion int64  `json:"tokenVersion"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token. ID (jti)
// identifies this token instance; SessionID correlates it with the stored
// refresh session record.
type RefreshClaims struct {
	SessionID    string `json:"sessionId"`
	TokenVersion int64  `json:"tokenVersion"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

// ResetClaims is the payload of a short-lived password-reset token.
type ResetClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// VerifyClaims is the payload of an email-verification token.
type VerifyClaims struct {
	Email string `json:"email"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = 24 * time.Hour
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < 16 {
			return nil, errors.New("hs256 requires a secret of at least 16 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 public key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Codec{config: cfg}, nil
}

// SignAccess mints an access token for the user carrying a snapshot of the
// user's current tokenVersion.
func (c *Codec) SignAccess(userID int64, tokenVersion int64) (string, error) {
	claims := AccessClaims{
		TokenVersion:     tokenVersion,
		Type:             TypeAccess,
		RegisteredClaims: c.registered(userID, c.config.AccessTTL),
	}
	return c.sign(claims)
}

// SignRefresh mints a refresh token bound to the given session and jti.
func (c *Codec) SignRefresh(userID int64, sessionID, jti string, tokenVersion int64) (string, error) {
	reg := c.registered(userID, c.config.RefreshTTL)
	reg.ID = jti
	claims := RefreshClaims{
		SessionID:        sessionID,
		TokenVersion:     tokenVersion,
		Type:             TypeRefresh,
		RegisteredClaims: reg,
	}
	return c.sign(claims)
}

// SignPasswordReset mints a narrowly-typed reset token, out of band from the
// access/refresh pair but signed by the same key.
func (c *Codec) SignPasswordReset(userID int64) (string, error) {
	claims := ResetClaims{
		Type:             TypePasswordReset,
		RegisteredClaims: c.registered(userID, c.config.ResetTTL),
	}
	return c.sign(claims)
}

// SignEmailVerify mints an email-verification token bound to the user's
// current address.
func (c *Codec) SignEmailVerify(userID int64, email string) (string, error) {
	claims := VerifyClaims{
		Email:            email,
		Type:             TypeEmailVerify,
		RegisteredClaims: c.registered(userID, c.config.VerifyTTL),
	}
	return c.sign(claims)
}

// VerifyAccess parses and validates an access token. Any failure collapses
// to ErrInvalidToken.
func (c *Codec) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token.
func (c *Codec) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TypeRefresh || claims.SessionID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyPasswordReset parses and validates a password-reset token.
func (c *Codec) VerifyPasswordReset(tokenStr string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TypePasswordReset {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyEmailVerify parses and validates an email-verification token.
func (c *Codec) VerifyEmailVerify(tokenStr string) (*VerifyClaims, error) {
	claims := &VerifyClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TypeEmailVerify {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID extracts the numeric user id from a subject claim.
func UserID(reg jwt.RegisteredClaims) (int64, error) {
	id, err := strconv.ParseInt(reg.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

func (c *Codec) registered(userID int64, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	reg := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    c.config.Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	if c.config.Audience != "" {
		reg.Audience = jwt.ClaimStrings{c.config.Audience}
	}
	return reg
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(c.method(), claims)
	key, err := c.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

func (c *Codec) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.verifyKey()
	})
	if err != nil {
		return err
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return ed25519.PrivateKey(c.config.PrivateKey), nil
	default:
		return c.config.Secret, nil
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return ed25519.PublicKey(c.config.PublicKey), nil
	default:
		return c.config.Secret, nil
	}
}
