// Package notifications queues tenant-facing emails and records their delivery.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/queue"
)

// ChannelEmail is the only channel delivered by this service.
const ChannelEmail = "email"

// LogStore persists notification logs.
type LogStore interface {
	Create(ctx context.Context, l *models.NotificationLog) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Enqueuer pushes email jobs to the worker.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Welcome is the message sent to a new tenant's admin.
type Welcome struct {
	TenantID          uuid.UUID
	CompanyName       string
	RecipientEmail    string
	RecipientName     string
	LoginURL          string
	TemporaryPassword string
	PlanName          string
	TrialEndsAt       *time.Time
}

// UsageAlert is the message sent when a tenant crosses a plan limit threshold.
type UsageAlert struct {
	TenantID         uuid.UUID
	CompanyName      string
	RecipientEmail   string
	Metric           string
	ThresholdPercent int
	Used             int
	Limit            int
	PlanName         string
}

// Service writes a pending log row and enqueues the email job for it.
type Service struct {
	logs   LogStore
	queue  Enqueuer
	logger *zap.Logger
}

// NewService creates a notification service.
func NewService(logs LogStore, q Enqueuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logs: logs, queue: q, logger: logger}
}

// SendWelcome queues the welcome email with the admin's temporary credentials.
func (s *Service) SendWelcome(ctx context.Context, w Welcome) error {
	subject := "Welcome to Brokerdesk, " + w.CompanyName
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", strings.TrimSpace(w.RecipientName))
	fmt.Fprintf(&b, "Your brokerage workspace for %s is ready", w.CompanyName)
	if w.PlanName != "" {
		fmt.Fprintf(&b, " on the %s plan", w.PlanName)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Sign in at: %s\n", w.LoginURL)
	fmt.Fprintf(&b, "Email: %s\n", w.RecipientEmail)
	fmt.Fprintf(&b, "Temporary password: %s\n\n", w.TemporaryPassword)
	b.WriteString("You will be asked to choose a new password on first sign-in.\n")
	if w.TrialEndsAt != nil {
		fmt.Fprintf(&b, "Your trial ends on %s.\n", w.TrialEndsAt.Format("2 January 2006"))
	}
	return s.send(ctx, w.TenantID, models.NotificationTenantWelcome, w.RecipientEmail, w.RecipientName, subject, b.String())
}

// SendUsageAlert queues a plan-limit warning to the tenant contact.
func (s *Service) SendUsageAlert(ctx context.Context, a UsageAlert) error {
	subject := fmt.Sprintf("%s: %d%% of your %s limit used", a.CompanyName, a.ThresholdPercent, a.Metric)
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "%s is using %d of %d %s allowed", a.CompanyName, a.Used, a.Limit, a.Metric)
	if a.PlanName != "" {
		fmt.Fprintf(&b, " by the %s plan", a.PlanName)
	}
	fmt.Fprintf(&b, " (%d%% threshold reached).\n", a.ThresholdPercent)
	if a.ThresholdPercent >= 100 {
		b.WriteString("New records may be blocked until you upgrade your plan.\n")
	} else {
		b.WriteString("Consider upgrading your plan before the limit is reached.\n")
	}
	return s.send(ctx, a.TenantID, models.NotificationUsageAlert, a.RecipientEmail, "", subject, b.String())
}

func (s *Service) send(ctx context.Context, tenantID uuid.UUID, kind, to, name, subject, body string) error {
	log := &models.NotificationLog{
		TenantID:         &tenantID,
		Channel:          ChannelEmail,
		NotificationType: kind,
		Recipient:        to,
		Subject:          subject,
	}
	if err := s.logs.Create(ctx, log); err != nil {
		return err
	}
	err := s.queue.EnqueueEmail(ctx, queue.EmailPayload{
		NotificationID:   log.ID,
		TenantID:         tenantID,
		NotificationType: kind,
		RecipientEmail:   to,
		RecipientName:    name,
		Subject:          subject,
		BodyText:         body,
	})
	if err != nil {
		if mErr := s.logs.MarkFailed(ctx, log.ID, "enqueue: "+err.Error()); mErr != nil {
			s.logger.Error("mark notification failed", zap.String("notification_id", log.ID.String()), zap.Error(mErr))
		}
		return fmt.Errorf("enqueue %s email: %w", kind, err)
	}
	s.logger.Info("notification queued", zap.String("type", kind), zap.String("tenant_id", tenantID.String()), zap.String("notification_id", log.ID.String()))
	return nil
}
