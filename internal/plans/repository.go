package plans

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/database"
)

// ErrPlanNotFound is returned for unknown or inactive plans.
var ErrPlanNotFound = errors.New("plan not found")

const planColumns = `id, name, slug, price, currency, billing_interval, max_users, max_customers,
	trial_days, is_active, sort_order, created_at, updated_at`

// Repository is the read-only plan registry.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a plans repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindActivePlan returns the plan with id if it exists and is active.
func (r *Repository) FindActivePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE id = $1 AND is_active = TRUE`
	p, err := scanPlan(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("find plan %s: %w", id, err)
	}
	return p, nil
}

// GetByID returns a plan regardless of its active flag.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	p, err := scanPlan(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns active plans in display order.
func (r *Repository) ListActive(ctx context.Context) ([]*models.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE is_active = TRUE ORDER BY sort_order, name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPlan(row pgx.Row) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.Currency, &p.BillingInterval,
		&p.MaxUsers, &p.MaxCustomers, &p.TrialDays, &p.IsActive, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
