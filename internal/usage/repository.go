package usage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/database"
)

// Repository handles usage_alerts persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a usage alerts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores the alert unless one already exists for the same tenant,
// metric, threshold and period. Reports whether a row was inserted.
func (r *Repository) Insert(ctx context.Context, a *models.UsageAlert) (bool, error) {
	const q = `INSERT INTO usage_alerts (tenant_id, metric, threshold_percent, used, usage_limit, period)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, metric, threshold_percent, period) DO NOTHING
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, a.TenantID, a.Metric, a.ThresholdPercent, a.Used, a.Limit, a.Period).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert usage alert: %w", err)
	}
	return true, nil
}

// ListByTenant returns a tenant's alerts, newest first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.UsageAlert, error) {
	const q = `SELECT id, tenant_id, metric, threshold_percent, used, usage_limit, period, created_at
		FROM usage_alerts
		WHERE tenant_id = $1
		ORDER BY created_at DESC, threshold_percent DESC`
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.UsageAlert
	for rows.Next() {
		var a models.UsageAlert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Metric, &a.ThresholdPercent, &a.Used, &a.Limit, &a.Period, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
