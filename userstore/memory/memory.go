// Package memory provides a map-backed UserStore for tests and examples.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/takahuman/authkit"
)

// Store implements authkit.UserStore in process memory. Safe for concurrent
// use; all mutations happen under one mutex so IncrementTokenVersion keeps
// its atomicity guarantee.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*authkit.User
	byEmail map[string]int64
	orgs    map[int64]int64 // owner user id -> default org id
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		nextID:  1,
		byID:    make(map[int64]*authkit.User),
		byEmail: make(map[string]int64),
		orgs:    make(map[int64]int64),
	}
}

func (s *Store) FindByEmail(_ context.Context, email string) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Store) FindByID(_ context.Context, id int64) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (s *Store) Create(_ context.Context, email, passwordHash string) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, authkit.ErrEmailTaken
	}

	user := &authkit.User{
		ID:           s.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextID++
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID

	// Default organization, created under the same lock as the user row.
	s.orgs[user.ID] = s.nextID
	s.nextID++

	return cloneUser(user), nil
}

// DefaultOrganization returns the id of the organization provisioned at
// signup, or 0 when the user does not exist.
func (s *Store) DefaultOrganization(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgs[userID]
}

func (s *Store) IncrementTokenVersion(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return authkit.ErrUserNotFound
	}
	user.TokenVersion++
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return authkit.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *Store) MarkEmailVerified(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return authkit.ErrUserNotFound
	}
	user.EmailVerified = true
	return nil
}

func cloneUser(u *authkit.User) *authkit.User {
	clone := *u
	return &clone
}
