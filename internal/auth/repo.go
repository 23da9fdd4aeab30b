package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/authz"
)

// Repository defines persistence operations for staff users.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (StaffUser, error)
	Create(ctx context.Context, u StaffUser) (StaffUser, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (StaffUser, error) {
	var (
		u    StaffUser
		role string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, username, password_hash, full_name, role, active, created_at
FROM staff_users WHERE username=$1`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StaffUser{}, ErrUserNotFound
		}
		return StaffUser{}, err
	}
	u.Role = authz.Role(role)
	return u, nil
}

// Create inserts a staff user, or refreshes the hash, name and role of an
// existing username.
func (r *PGRepository) Create(ctx context.Context, u StaffUser) (StaffUser, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO staff_users (username, password_hash, full_name, role, active)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (username) DO UPDATE SET password_hash=EXCLUDED.password_hash, full_name=EXCLUDED.full_name, role=EXCLUDED.role, active=EXCLUDED.active
RETURNING id, created_at`, u.Username, u.PasswordHash, u.FullName, string(u.Role), u.Active).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return StaffUser{}, err
	}
	return u, nil
}
