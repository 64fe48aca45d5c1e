package models

import (
	"time"

	"github.com/google/uuid"
)

// Billing intervals.
const (
	BillingMonthly = "monthly"
	BillingYearly  = "yearly"
)

// Plan is a billing/limits tier. Zero limits mean unlimited.
type Plan struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Price           int64     `json:"price"` // minor units
	Currency        string    `json:"currency"`
	BillingInterval string    `json:"billing_interval"`
	MaxUsers        int       `json:"max_users"`
	MaxCustomers    int       `json:"max_customers"`
	TrialDays       int       `json:"trial_days"`
	IsActive        bool      `json:"is_active"`
	SortOrder       int       `json:"sort_order"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
