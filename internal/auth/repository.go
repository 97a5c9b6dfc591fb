package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudretail/saga/internal/database"
)

// Repository stores users and their password hashes.
type Repository struct {
	db  *database.DB
	now func() time.Time
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// CreateUser inserts a user. An email that is already registered yields
// ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, u User, passwordHash []byte) (User, error) {
	u.CreatedAt = r.now().UTC().Truncate(time.Millisecond)

	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		INSERT INTO users (name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING
		RETURNING id`),
		u.Name, u.Email, string(passwordHash), string(u.Role), database.Millis(u.CreatedAt),
	).Scan(&u.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("%s: %w", u.Email, ErrEmailTaken)
		}
		return User{}, fmt.Errorf("insert user %s: %w", u.Email, err)
	}
	return u, nil
}

// UserByEmail returns the user and its password hash.
func (r *Repository) UserByEmail(ctx context.Context, email string) (User, []byte, error) {
	var (
		u       User
		hash    string
		role    string
		created int64
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, name, email, password_hash, role, created_at FROM users WHERE email = ?`), email,
	).Scan(&u.ID, &u.Name, &u.Email, &hash, &role, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, nil, fmt.Errorf("%s: %w", email, ErrUserNotFound)
		}
		return User{}, nil, fmt.Errorf("get user %s: %w", email, err)
	}

	u.Role = Role(role)
	u.CreatedAt = database.FromMillis(created)
	return u, []byte(hash), nil
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
