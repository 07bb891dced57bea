package authkit

import (
	"context"
	"time"
)

// User is the account record owned by the external user store. PasswordHash
// never leaves the process: it is excluded from serialization and logs.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	TokenVersion  int64     `json:"-"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// UserStore is the relational collaborator the Engine depends on. The core
// never touches user persistence directly.
//
// Create must provision the user's default organization atomically with the
// user row; both exist or neither does. IncrementTokenVersion must be
// atomic: tokenVersion only ever increases, and every successful password
// change or detected refresh reuse increments it exactly once.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	IncrementTokenVersion(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id int64) error
}

// Identity is the resolved caller identity produced by ValidateAccess and
// threaded through request contexts by the authentication middleware.
type Identity struct {
	UserID       int64
	Email        string
	TokenVersion int64
}

// TokenPair is an access/refresh token couple bound to one session.
type TokenPair struct {
	Access  string
	Refresh string
}
