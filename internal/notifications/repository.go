package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerdesk/backoffice/internal/models"
)

// Repository handles notification_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a pending log row and fills ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, l *models.NotificationLog) error {
	if l.Channel == "" {
		l.Channel = ChannelEmail
	}
	l.Status = models.NotificationStatusPending
	const q = `INSERT INTO notification_logs (tenant_id, channel, notification_type, recipient, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, l.TenantID, l.Channel, l.NotificationType, l.Recipient, l.Subject, l.Status).Scan(&l.ID, &l.CreatedAt); err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notification_logs SET status = $2, sent_at = NOW(), error_message = NULL WHERE id = $1`,
		id, models.NotificationStatusSent)
	return err
}

// MarkFailed records a delivery failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `UPDATE notification_logs SET status = $2, error_message = $3 WHERE id = $1`,
		id, models.NotificationStatusFailed, reason)
	return err
}

// ListByTenant returns a tenant's notification logs, newest first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.NotificationLog, error) {
	const q = `SELECT id, tenant_id, channel, notification_type, recipient, subject, status, error_message, sent_at, created_at
		FROM notification_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.NotificationLog
	for rows.Next() {
		var l models.NotificationLog
		var subject, errMsg *string
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Channel, &l.NotificationType, &l.Recipient, &subject, &l.Status, &errMsg, &l.SentAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		if subject != nil {
			l.Subject = *subject
		}
		if errMsg != nil {
			l.ErrorMessage = *errMsg
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
