package tenants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/database"
)

const (
	constraintDomainPK  = "tenant_domains_pkey"
	constraintSubdomain = "tenants_subdomain_key"
)

// Repository handles tenant and tenant_domains persistence in the central database.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tenants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TakenDomains returns which of domains already exist in tenant_domains
// (reserved or attached). Advisory only: the insert in ReserveDomains is authoritative.
func (r *Repository) TakenDomains(ctx context.Context, domains []string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT domain FROM tenant_domains WHERE domain = ANY($1)`, domains)
	if err != nil {
		return nil, fmt.Errorf("check domains: %w", err)
	}
	defer rows.Close()
	var taken []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		taken = append(taken, d)
	}
	return taken, rows.Err()
}

// ReserveDomains inserts unattached domain rows under token in one transaction.
// The first domain is marked primary. A concurrent winner surfaces as *DomainTakenError.
func (r *Repository) ReserveDomains(ctx context.Context, token string, domains []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const q = `INSERT INTO tenant_domains (domain, reservation_token, is_primary) VALUES ($1, $2, $3)`
	for i, d := range domains {
		if _, err := tx.Exec(ctx, q, d, token, i == 0); err != nil {
			if database.IsUniqueViolation(err, constraintDomainPK) {
				return &DomainTakenError{Domain: d}
			}
			return fmt.Errorf("reserve domain %s: %w", d, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}
	return nil
}

// ReleaseDomains deletes every domain row reserved under token.
func (r *Repository) ReleaseDomains(ctx context.Context, token string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM tenant_domains WHERE reservation_token = $1`, token); err != nil {
		return fmt.Errorf("release domains: %w", err)
	}
	return nil
}

// Create inserts the tenant row and attaches the domains reserved under token.
func (r *Repository) Create(ctx context.Context, t *models.Tenant, token string) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create tenant: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const q = `INSERT INTO tenants (id, company_name, subdomain, contact_email, plan_id, status, database_name, metadata, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, q, t.ID, t.CompanyName, t.Subdomain, t.ContactEmail, t.PlanID, string(t.Status),
		t.DatabaseName, meta, t.TrialEndsAt).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, constraintSubdomain) {
			return &DomainTakenError{Domain: t.Subdomain}
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tenant_domains SET tenant_id = $1 WHERE reservation_token = $2`, t.ID, token); err != nil {
		return fmt.Errorf("attach domains: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create tenant: %w", err)
	}
	return nil
}

// Delete removes a tenant row. Attached domains fall back to unattached (ON DELETE SET NULL).
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// SetStatus updates the tenant lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// UpdateMetadata replaces the tenant metadata document.
func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, meta models.TenantMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET metadata = $2, updated_at = NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("update tenant metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

const tenantColumns = `t.id, t.company_name, t.subdomain, t.contact_email, t.plan_id, t.status, t.database_name,
	t.metadata, t.trial_ends_at, t.created_at, t.updated_at,
	COALESCE((SELECT array_agg(d.domain ORDER BY d.is_primary DESC, d.domain) FROM tenant_domains d WHERE d.tenant_id = t.id), '{}')`

// GetByID returns a tenant with its domains.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants t WHERE t.id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// List returns tenants, newest first. An empty status lists all.
func (r *Repository) List(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants t WHERE ($1 = '' OR t.status = $1) ORDER BY t.created_at DESC`
	rows, err := r.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ListActive returns active tenants.
func (r *Repository) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	return r.List(ctx, models.TenantStatusActive)
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var status string
	var meta []byte
	var trialEndsAt *time.Time
	err := row.Scan(&t.ID, &t.CompanyName, &t.Subdomain, &t.ContactEmail, &t.PlanID, &status, &t.DatabaseName,
		&meta, &trialEndsAt, &t.CreatedAt, &t.UpdatedAt, &t.Domains)
	if err != nil {
		return nil, err
	}
	t.Status = models.TenantStatus(status)
	t.TrialEndsAt = trialEndsAt
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode tenant metadata: %w", err)
		}
	}
	return &t, nil
}
