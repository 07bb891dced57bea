// Package postgres implements authkit.UserStore on PostgreSQL, with schema
// migrations embedded and applied via goose.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/userstore/postgres/migrations"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed user store.
type Store struct {
	db *sql.DB
}

// Open connects to the database, verifies the connection, and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	store := &Store{db: db}
	if err := store.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return store, nil
}

// NewStore wraps an existing connection pool without running migrations.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RunMigrations applies the embedded goose migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*authkit.User, error) {
	return s.findBy(ctx, "email = $1", email)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*authkit.User, error) {
	return s.findBy(ctx, "id = $1", id)
}

func (s *Store) findBy(ctx context.Context, where string, arg any) (*authkit.User, error) {
	query := `SELECT id, email, password_hash, token_version, email_verified, created_at
	          FROM users WHERE ` + where

	user := &authkit.User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash,
		&user.TokenVersion, &user.EmailVerified, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authkit.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// Create inserts the user and provisions a default organization with an
// owner membership, all in one transaction.
func (s *Store) Create(ctx context.Context, email, passwordHash string) (*authkit.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user := &authkit.User{Email: email, PasswordHash: passwordHash}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, token_version, email_verified, created_at`,
		email, passwordHash,
	).Scan(&user.ID, &user.TokenVersion, &user.EmailVerified, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, authkit.ErrEmailTaken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	var orgID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO organizations (name, owner_id)
		 VALUES ($1, $2)
		 RETURNING id`,
		email, user.ID,
	).Scan(&orgID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO organization_members (organization_id, user_id, role)
		 VALUES ($1, $2, 'owner')`,
		orgID, user.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (s *Store) IncrementTokenVersion(ctx context.Context, id int64) error {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET token_version = token_version + 1
		 WHERE id = $1
		 RETURNING token_version`,
		id,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authkit.ErrUserNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	return s.updateOne(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		id, passwordHash)
}

func (s *Store) MarkEmailVerified(ctx context.Context, id int64) error {
	return s.updateOne(ctx,
		`UPDATE users SET email_verified = TRUE WHERE id = $1`,
		id)
}

func (s *Store) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return authkit.ErrUserNotFound
	}
	return nil
}
