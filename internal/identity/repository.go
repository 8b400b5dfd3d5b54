package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed allow-list lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EmailAllowListed reports whether the email is listed as system-wide admin.
func (r *Repository) EmailAllowListed(ctx context.Context, email string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uber_admin_emails WHERE lower(email) = $1)`, email).Scan(&ok)
	return ok, err
}

// HasSystemRole reports whether the user holds a site-less uber_admin assignment.
func (r *Repository) HasSystemRole(ctx context.Context, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = 'uber_admin' AND site_id IS NULL)`, userID).Scan(&ok)
	return ok, err
}
