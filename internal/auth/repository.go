package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/database"
)

// ErrAdminNotFound is returned when no admin has the email.
var ErrAdminNotFound = errors.New("admin not found")

// Repository handles platform_admins persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByEmail returns an admin by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.PlatformAdmin, error) {
	const q = `SELECT id, email, password_hash, full_name, role, created_at, updated_at
		FROM platform_admins WHERE lower(email) = lower($1)`
	var a models.PlatformAdmin
	err := r.pool.QueryRow(ctx, q, email).Scan(&a.ID, &a.Email, &a.Password, &a.FullName, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Upsert creates or updates an admin by email. Used to bootstrap the first operator.
func (r *Repository) Upsert(ctx context.Context, email, passwordHash, fullName string) (*models.PlatformAdmin, error) {
	const q = `INSERT INTO platform_admins (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, full_name = EXCLUDED.full_name, updated_at = NOW()
		RETURNING id, email, password_hash, full_name, role, created_at, updated_at`
	var a models.PlatformAdmin
	err := r.pool.QueryRow(ctx, q, email, passwordHash, fullName, models.RolePlatformAdmin).
		Scan(&a.ID, &a.Email, &a.Password, &a.FullName, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
