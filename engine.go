package authkit

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/takahuman/authkit/internal/rate"
	"github.com/takahuman/authkit/password"
	"github.com/takahuman/authkit/session"
	"github.com/takahuman/authkit/token"
)

// Engine is the credential protocol state machine: signup, login, refresh
// rotation with reuse detection, logout, and password reset. It holds no
// per-request state; every method may run concurrently with any other,
// including two refreshes racing over the same token.
type Engine struct {
	config   Config
	codec    *token.Codec
	sessions *session.Store
	limiter  *rate.LoginLimiter
	hasher   *password.Hasher
	users    UserStore
	logger   *zap.Logger
}

// Codec exposes the token codec for callers that need to inspect tokens
// without driving a protocol transition.
func (e *Engine) Codec() *token.Codec {
	return e.codec
}

// Config returns the configuration the Engine was built with. HTTP adapters
// read the token TTLs from it for cookie lifetimes.
func (e *Engine) Config() Config {
	return e.config
}

// Signup registers a new account and logs it in: hash the password, create
// the user (tokenVersion 0, default organization provisioned atomically by
// the store), open a refresh session, and mint the first token pair.
func (e *Engine) Signup(ctx context.Context, email, plaintext string) (*User, *TokenPair, error) {
	if e == nil || e.users == nil {
		return nil, nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, nil, err
	}

	user, err := e.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, err
	}

	pair, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info("account created", zap.Int64("user_id", user.ID))
	return user, pair, nil
}

// Login authenticates an email/password pair. Unknown email and wrong
// password produce the same error; a per-(email, IP) counter locks the pair
// out after repeated failures.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*User, *TokenPair, error) {
	if e == nil || e.users == nil {
		return nil, nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.Check(ctx, email, ip); err != nil {
		if !errors.Is(err, rate.ErrRateLimited) {
			e.logger.Warn("login limiter check failed", zap.Error(err))
		}
		return nil, nil, ErrRateLimited
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if fErr := e.recordLoginFailure(ctx, email, ip); fErr != nil {
			return nil, nil, fErr
		}
		return nil, nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		if fErr := e.recordLoginFailure(ctx, email, ip); fErr != nil {
			return nil, nil, fErr
		}
		return nil, nil, ErrInvalidCredentials
	}

	// Limiter reset is best-effort and must not block a successful login.
	if err := e.limiter.Reset(ctx, email, ip); err != nil {
		e.logger.Warn("login limiter reset failed", zap.Error(err))
	}

	pair, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info("login succeeded", zap.Int64("user_id", user.ID))
	return user, pair, nil
}

// Refresh rotates a refresh token. The presented jti is compared-and-swapped
// against the stored session record: a mismatch means this token was already
// rotated away and is being replayed, so the session is revoked and the
// user's token version bumped before the caller sees a failure. The bump
// invalidates every outstanding access token for the user.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	userID, err := token.UserID(claims.RegisteredClaims)
	if err != nil {
		return nil, ErrUnauthorized
	}

	nextJTI := uuid.NewString()
	switch err := e.sessions.Rotate(ctx, claims.SessionID, claims.ID, nextJTI); {
	case err == nil:
		// rotated; fall through
	case errors.Is(err, session.ErrJTIMismatch):
		e.handleReuse(ctx, claims.SessionID, userID)
		return nil, ErrRefreshReuse
	case errors.Is(err, session.ErrSessionNotFound):
		return nil, ErrUnauthorized
	default:
		// Redis down: the session path fails closed, otherwise replayed
		// tokens could not be told apart from live ones.
		e.logger.Error("refresh rotation unavailable", zap.Error(err))
		return nil, ErrUnauthorized
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if revokeErr := e.sessions.Revoke(ctx, claims.SessionID); revokeErr != nil {
			e.logger.Warn("session revoke failed for deleted user", zap.Error(revokeErr))
		}
		return nil, ErrUnauthorized
	}

	access, err := e.codec.SignAccess(user.ID, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	refresh, err := e.codec.SignRefresh(user.ID, claims.SessionID, nextJTI, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// handleReuse runs the compensating action for a replayed refresh token:
// revoke the session and bump the user's token version. Both must be
// attempted even though the response is indistinguishable from a plain
// invalid-token failure.
func (e *Engine) handleReuse(ctx context.Context, sessionID string, userID int64) {
	e.logger.Warn("refresh token reuse detected",
		zap.String("session_id", sessionID),
		zap.Int64("user_id", userID),
	)
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		e.logger.Error("session revoke failed after reuse", zap.Error(err))
	}
	if err := e.users.IncrementTokenVersion(ctx, userID); err != nil {
		e.logger.Error("token version bump failed after reuse", zap.Error(err))
	}
}

// Logout revokes the session behind the presented refresh token. It is
// deliberately forgiving: a missing, malformed, or expired token is ignored,
// and revoking an already-absent session is a no-op, so logout always
// succeeds locally.
func (e *Engine) Logout(ctx context.Context, refreshToken string) {
	if e == nil || refreshToken == "" {
		return
	}
	claims, err := e.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return
	}
	if err := e.sessions.Revoke(ctx, claims.SessionID); err != nil {
		e.logger.Warn("logout revoke failed", zap.Error(err))
	}
}

// ValidateAccess resolves the identity behind an access token. Beyond
// signature and expiry it requires the user to still exist and the embedded
// tokenVersion to match the user's current value. That comparison is how
// password resets and reuse events invalidate all outstanding access tokens,
// at the cost of one store lookup per request.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*Identity, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.VerifyAccess(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}
	userID, err := token.UserID(claims.RegisteredClaims)
	if err != nil {
		return nil, ErrUnauthorized
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if user.TokenVersion != claims.TokenVersion {
		e.logger.Debug("stale token version",
			zap.Int64("user_id", userID),
			zap.Int64("token_version", claims.TokenVersion),
		)
		return nil, ErrUnauthorized
	}

	return &Identity{
		UserID:       user.ID,
		Email:        user.Email,
		TokenVersion: user.TokenVersion,
	}, nil
}

// RequestPasswordReset issues a reset token for the account, if it exists.
// The empty-token success for unknown emails keeps the response identical
// either way; delivery of the token is the caller's concern.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.users == nil {
		return "", ErrEngineNotReady
	}
	user, err := e.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", err
	}
	return e.codec.SignPasswordReset(user.ID)
}

// ResetPassword replaces the password hash and bumps the token version,
// globally invalidating every session and token issued before the reset.
func (e *Engine) ResetPassword(ctx context.Context, tokenStr, newPlaintext string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	claims, err := e.codec.VerifyPasswordReset(tokenStr)
	if err != nil {
		return ErrTokenInvalid
	}
	userID, err := token.UserID(claims.RegisteredClaims)
	if err != nil {
		return ErrTokenInvalid
	}

	hash, err := e.hasher.Hash(newPlaintext)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	if err := e.users.IncrementTokenVersion(ctx, userID); err != nil {
		e.logger.Error("token version bump failed after password reset", zap.Error(err))
		return err
	}
	e.logger.Info("password reset completed", zap.Int64("user_id", userID))
	return nil
}

// RequestEmailVerification issues a verification token bound to the user's
// current address.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID int64) (string, error) {
	if e == nil || e.users == nil {
		return "", ErrEngineNotReady
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return e.codec.SignEmailVerify(user.ID, user.Email)
}

// ConfirmEmailVerification validates a verification token presented by the
// authenticated user and marks the address verified. The token subject must
// match the caller.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, userID int64, tokenStr string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	claims, err := e.codec.VerifyEmailVerify(tokenStr)
	if err != nil {
		return ErrTokenInvalid
	}
	subject, err := token.UserID(claims.RegisteredClaims)
	if err != nil || subject != userID {
		return ErrTokenInvalid
	}
	return e.users.MarkEmailVerified(ctx, userID)
}

func (e *Engine) issueSession(ctx context.Context, user *User) (*TokenPair, error) {
	sessionID, jti, err := e.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, err := e.codec.SignAccess(user.ID, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	refresh, err := e.codec.SignRefresh(user.ID, sessionID, jti, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, email, ip string) error {
	err := e.limiter.Increment(ctx, email, ip)
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	e.logger.Warn("login limiter increment failed", zap.Error(err))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
