package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle status of a tenant row.
type TenantStatus string

const (
	TenantStatusProvisioning TenantStatus = "provisioning"
	TenantStatusActive       TenantStatus = "active"
	TenantStatusSuspended    TenantStatus = "suspended"
)

// Tenant is a provisioned customer organization with its own database.
type Tenant struct {
	ID           uuid.UUID      `json:"id"`
	CompanyName  string         `json:"company_name"`
	Subdomain    string         `json:"subdomain"`
	ContactEmail string         `json:"contact_email"`
	PlanID       uuid.UUID      `json:"plan_id"`
	Status       TenantStatus   `json:"status"`
	DatabaseName string         `json:"database_name"`
	Metadata     TenantMetadata `json:"metadata"`
	Domains      []string       `json:"domains,omitempty"`
	TrialEndsAt  *time.Time     `json:"trial_ends_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TenantMetadata is stored as JSONB on the tenant row.
type TenantMetadata struct {
	CompanyName       string `json:"company_name"`
	ContactEmail      string `json:"contact_email"`
	Timezone          string `json:"timezone,omitempty"`
	Currency          string `json:"currency,omitempty"`
	ThemePrimaryColor string `json:"theme_primary_color,omitempty"`
	LogoURL           string `json:"logo_url,omitempty"`
}

