package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runeforge/server/internal/model"
)

// UserRepository manages user identities.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert creates the user on first login or refreshes display name, email and
// last_login_at on subsequent logins. Returns the stored row.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) (*model.User, error) {
	var out model.User
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, display_name, email, last_login_at)
		 VALUES ($1, $2, NULLIF($3, ''), now())
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     email = COALESCE(EXCLUDED.email, users.email),
		     last_login_at = now()
		 RETURNING id, display_name, COALESCE(email, ''), created_at, last_login_at`,
		u.ID, u.DisplayName, u.Email,
	).Scan(&out.ID, &out.DisplayName, &out.Email, &out.CreatedAt, &out.LastLoginAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return &out, nil
}

// GetByID retrieves a user by provider subject.
// Returns nil, nil if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, display_name, COALESCE(email, ''), created_at, last_login_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Email, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", id, err)
	}
	return &u, nil
}

// TouchLastSeen bumps last_login_at, used when a WebSocket authenticates with
// an existing session token.
func (r *UserRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touching user %q: %w", id, err)
	}
	return nil
}
