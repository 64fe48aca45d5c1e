package models

import (
	"time"

	"github.com/google/uuid"
)

// Usage metrics checked against plan limits.
const (
	MetricUsers     = "users"
	MetricCustomers = "customers"
)

// UsageAlert records that a tenant crossed a percentage of a plan limit in a period.
type UsageAlert struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	Metric           string    `json:"metric"`
	ThresholdPercent int       `json:"threshold_percent"`
	Used             int       `json:"used"`
	Limit            int       `json:"limit"`
	Period           string    `json:"period"`
	CreatedAt        time.Time `json:"created_at"`
}
