package provisioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
	"github.com/brokerdesk/backoffice/internal/tenants"
)

// Step names, in execution order.
const (
	StepValidateInput   = "validate_input"
	StepReserveDomains  = "reserve_domains"
	StepCreateTenant    = "create_tenant"
	StepCreateDatabase  = "create_database"
	StepRunMigrations   = "run_migrations"
	StepSeedRoles       = "seed_roles"
	StepCreateAdminUser = "create_admin_user"
	StepApplyBranding   = "apply_branding"
	StepActivateTenant  = "activate_tenant"
	StepSendWelcome     = "send_welcome_notification"
)

// Step is one named unit of the provisioning sequence. Compensate is nil for
// steps whose effect disappears with an earlier step's compensation.
type Step struct {
	Name        string
	Description string
	Run         func(ctx context.Context, r *run) (string, error)
	Compensate  func(ctx context.Context, r *run) error
}

// run is the mutable state shared by the steps of one provisioning attempt.
type run struct {
	req         *Request
	plan        *models.Plan
	token       string
	domains     []string
	tenant      *models.Tenant
	trialEndsAt *time.Time
	creds       *tenantdb.AdminCredentials
	logoKey     string
}

func (o *Orchestrator) steps() []Step {
	return []Step{
		{Name: StepValidateInput, Description: "Validate input", Run: o.validateInput},
		{Name: StepReserveDomains, Description: "Reserve subdomain and domain", Run: o.reserveDomains, Compensate: o.releaseDomains},
		{Name: StepCreateTenant, Description: "Create tenant record", Run: o.createTenant, Compensate: o.deleteTenant},
		{Name: StepCreateDatabase, Description: "Create tenant database", Run: o.createDatabase, Compensate: o.dropDatabase},
		{Name: StepRunMigrations, Description: "Run tenant migrations", Run: o.runMigrations},
		{Name: StepSeedRoles, Description: "Seed roles and permissions", Run: o.seedRoles},
		{Name: StepCreateAdminUser, Description: "Create admin user", Run: o.createAdminUser},
		{Name: StepApplyBranding, Description: "Apply branding and settings", Run: o.applyBranding, Compensate: o.removeBranding},
		{Name: StepActivateTenant, Description: "Activate tenant", Run: o.activateTenant, Compensate: o.deactivateTenant},
		{Name: StepSendWelcome, Description: "Send welcome notification", Run: o.sendWelcome},
	}
}

// StepNames lists the sequence without running anything.
func (o *Orchestrator) StepNames() []string {
	steps := o.steps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func (o *Orchestrator) validateInput(ctx context.Context, r *run) (string, error) {
	if r.req == nil || r.plan == nil {
		return "", errors.New("request was not validated")
	}
	return fmt.Sprintf("plan %s selected", r.plan.Slug), nil
}

func (o *Orchestrator) reserveDomains(ctx context.Context, r *run) (string, error) {
	if err := o.tenants.ReserveDomains(ctx, r.token, r.domains); err != nil {
		return "", err
	}
	return fmt.Sprintf("reserved %d domain(s)", len(r.domains)), nil
}

func (o *Orchestrator) releaseDomains(ctx context.Context, r *run) error {
	return o.tenants.ReleaseDomains(ctx, r.token)
}

func (o *Orchestrator) createTenant(ctx context.Context, r *run) (string, error) {
	id := uuid.New()
	t := &models.Tenant{
		ID:           id,
		CompanyName:  r.req.CompanyName,
		Subdomain:    r.req.Subdomain,
		ContactEmail: r.req.ContactEmail,
		PlanID:       r.plan.ID,
		Status:       models.TenantStatusProvisioning,
		DatabaseName: o.databases.DatabaseName(id),
		Metadata: models.TenantMetadata{
			CompanyName:       r.req.CompanyName,
			ContactEmail:      r.req.ContactEmail,
			Timezone:          o.timezone(r.req),
			Currency:          o.currency(r.req),
			ThemePrimaryColor: r.req.ThemePrimaryColor,
		},
		Domains:     r.domains,
		TrialEndsAt: r.trialEndsAt,
	}
	if err := o.tenants.Create(ctx, t, r.token); err != nil {
		return "", err
	}
	r.tenant = t
	return "tenant " + id.String() + " created", nil
}

func (o *Orchestrator) deleteTenant(ctx context.Context, r *run) error {
	if r.tenant == nil {
		return nil
	}
	err := o.tenants.Delete(ctx, r.tenant.ID)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		return nil
	}
	return err
}

func (o *Orchestrator) createDatabase(ctx context.Context, r *run) (string, error) {
	if err := o.databases.CreateDatabase(ctx, r.tenant.DatabaseName); err != nil {
		return "", err
	}
	return "database " + r.tenant.DatabaseName + " created", nil
}

func (o *Orchestrator) dropDatabase(ctx context.Context, r *run) error {
	return o.databases.DropDatabase(ctx, r.tenant.DatabaseName)
}

func (o *Orchestrator) runMigrations(ctx context.Context, r *run) (string, error) {
	if err := o.databases.Migrate(ctx, r.tenant.DatabaseName); err != nil {
		return "", err
	}
	return "tenant schema migrated", nil
}

func (o *Orchestrator) seedRoles(ctx context.Context, r *run) (string, error) {
	if err := o.databases.SeedRoles(ctx, r.tenant.DatabaseName); err != nil {
		return "", err
	}
	return "default roles seeded", nil
}

func (o *Orchestrator) createAdminUser(ctx context.Context, r *run) (string, error) {
	creds, err := o.databases.CreateAdminUser(ctx, r.tenant.DatabaseName, tenantdb.AdminUser{
		FirstName: r.req.AdminFirstName,
		LastName:  r.req.AdminLastName,
		Email:     r.req.AdminEmail,
	})
	if err != nil {
		return "", err
	}
	r.creds = creds
	return "admin user " + creds.Email + " created", nil
}

func (o *Orchestrator) applyBranding(ctx context.Context, r *run) (string, error) {
	meta := r.tenant.Metadata
	if logo := r.req.Logo; logo != nil {
		key, url, err := o.logos.UploadLogo(ctx, r.tenant.ID, logo.ContentType, bytes.NewReader(logo.Data), int64(len(logo.Data)))
		if err != nil {
			return "", fmt.Errorf("upload logo: %w", err)
		}
		r.logoKey = key
		meta.LogoURL = url
	}
	settings := map[string]string{
		"company_name":  meta.CompanyName,
		"contact_email": meta.ContactEmail,
		"timezone":      meta.Timezone,
		"currency":      meta.Currency,
		"plan":          r.plan.Slug,
		"max_users":     strconv.Itoa(r.plan.MaxUsers),
		"max_customers": strconv.Itoa(r.plan.MaxCustomers),
	}
	if meta.ThemePrimaryColor != "" {
		settings["theme_primary_color"] = meta.ThemePrimaryColor
	}
	if meta.LogoURL != "" {
		settings["logo_url"] = meta.LogoURL
	}
	if r.trialEndsAt != nil {
		settings["trial_ends_at"] = r.trialEndsAt.Format(time.RFC3339)
	}
	err := o.databases.ApplySettings(ctx, r.tenant.DatabaseName, settings)
	if err == nil {
		err = o.tenants.UpdateMetadata(ctx, r.tenant.ID, meta)
	}
	if err != nil {
		// the step is not marked complete, so its compensation would not run
		if cerr := o.removeBranding(context.WithoutCancel(ctx), r); cerr != nil {
			o.logger.Error("remove logo after branding failure", zap.String("tenant_id", r.tenant.ID.String()), zap.Error(cerr))
		}
		return "", err
	}
	r.tenant.Metadata = meta
	return fmt.Sprintf("%d setting(s) applied", len(settings)), nil
}

func (o *Orchestrator) removeBranding(ctx context.Context, r *run) error {
	if r.logoKey == "" {
		return nil
	}
	if err := o.logos.DeleteLogo(ctx, r.logoKey); err != nil {
		return err
	}
	r.logoKey = ""
	return nil
}

func (o *Orchestrator) activateTenant(ctx context.Context, r *run) (string, error) {
	if err := o.tenants.SetStatus(ctx, r.tenant.ID, models.TenantStatusActive); err != nil {
		return "", err
	}
	r.tenant.Status = models.TenantStatusActive
	return "tenant active", nil
}

func (o *Orchestrator) deactivateTenant(ctx context.Context, r *run) error {
	err := o.tenants.SetStatus(ctx, r.tenant.ID, models.TenantStatusProvisioning)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		return nil
	}
	return err
}

func (o *Orchestrator) sendWelcome(ctx context.Context, r *run) (string, error) {
	msg := notifications.Welcome{
		TenantID:          r.tenant.ID,
		CompanyName:       r.tenant.CompanyName,
		RecipientEmail:    r.creds.Email,
		RecipientName:     r.req.AdminFirstName + " " + r.req.AdminLastName,
		LoginURL:          o.loginURL(r.req.Subdomain),
		TemporaryPassword: r.creds.TemporaryPassword,
		PlanName:          r.plan.Name,
		TrialEndsAt:       r.trialEndsAt,
	}
	if err := o.notifier.SendWelcome(ctx, msg); err != nil {
		return "", err
	}
	return "welcome email queued for " + msg.RecipientEmail, nil
}
