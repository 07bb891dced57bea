package authkit

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The surface is identical for the two cases to avoid user enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is the single generic failure for missing, invalid,
	// expired, or stale tokens. Internal distinctions are logged only.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmailTaken is returned by signup when the email is registered.
	ErrEmailTaken = errors.New("email already in use")
	// ErrUserNotFound is returned by user stores for unknown ids/emails.
	ErrUserNotFound = errors.New("user not found")
	// ErrRateLimited is returned when the login attempt budget is exhausted.
	ErrRateLimited = errors.New("too many attempts")
	// ErrRefreshReuse signals replay of an already-rotated refresh token.
	// The session is revoked and the user's token version bumped before
	// this is returned; the HTTP boundary still presents it as a plain 401.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrTokenInvalid is returned for bad out-of-band tokens (password
	// reset, email verification).
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEngineNotReady is returned when the Engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)
