package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationTenantWelcome = "tenant_welcome"
	NotificationUsageAlert    = "usage_alert"
)

// NotificationLogStatus for delivery.
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// NotificationLog records a tenant-facing notification and its delivery state.
type NotificationLog struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         *uuid.UUID `json:"tenant_id,omitempty"`
	Channel          string     `json:"channel"`
	NotificationType string     `json:"notification_type"`
	Recipient        string     `json:"recipient"`
	Subject          string     `json:"subject,omitempty"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
