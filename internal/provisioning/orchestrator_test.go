package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/backoffice/internal/models"
)

func TestStepSequence(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"validate_input",
		"reserve_domains",
		"create_tenant",
		"create_database",
		"run_migrations",
		"seed_roles",
		"create_admin_user",
		"apply_branding",
		"activate_tenant",
		"send_welcome_notification",
	}, f.orch.StepNames())

	compensated := map[string]bool{}
	for _, s := range f.orch.steps() {
		assert.NotNil(t, s.Run, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
		compensated[s.Name] = s.Compensate != nil
	}
	assert.Equal(t, map[string]bool{
		StepValidateInput: false, StepReserveDomains: true, StepCreateTenant: true, StepCreateDatabase: true,
		StepRunMigrations: false, StepSeedRoles: false, StepCreateAdminUser: false, StepApplyBranding: true,
		StepActivateTenant: true, StepSendWelcome: false,
	}, compensated)
}

func TestProvision_Success(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Logo = pngLogo()
	req.ProgressKey = "run-acme"

	res, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.TenantID)
	assert.Equal(t, "run-acme", res.ProgressKey)

	require.Equal(t, 1, f.w.tenantCount())
	tenant := f.w.tenants[*res.TenantID]
	assert.Equal(t, models.TenantStatusActive, tenant.Status)
	assert.Equal(t, "Acme Brokers", tenant.Metadata.CompanyName)
	assert.Equal(t, "ops@acme.test", tenant.Metadata.ContactEmail)
	assert.Equal(t, "GBP", tenant.Metadata.Currency)
	assert.Contains(t, tenant.Metadata.LogoURL, "https://logos.test/")
	require.NotNil(t, tenant.TrialEndsAt)
	assert.Contains(t, f.w.domains, "acme.brokerdesk.test")
	assert.Contains(t, f.w.domains, "app.example.com")
	assert.True(t, f.w.databases[tenant.DatabaseName])

	require.Len(t, f.w.welcomes, 1)
	assert.Equal(t, "jane@acme.test", f.w.welcomes[0].RecipientEmail)
	assert.Equal(t, "https://acme.brokerdesk.test/login", f.w.welcomes[0].LoginURL)

	rec := f.progress(t, "run-acme")
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Percentage)
	assert.Equal(t, 10, rec.TotalSteps)
	assert.Equal(t, 10, rec.CurrentStep)
	require.Len(t, rec.Steps, 10)
	for i, name := range f.orch.StepNames() {
		assert.Equal(t, name, rec.Steps[i].Name)
		assert.Equal(t, StepCompleted, rec.Steps[i].Status)
	}
	require.NotNil(t, rec.TenantID)
	assert.Equal(t, *res.TenantID, *rec.TenantID)
	assert.Empty(t, f.w.journal)
}

func TestProvision_GeneratesProgressKey(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Provision(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = uuid.Parse(res.ProgressKey)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, f.progress(t, res.ProgressKey).Status)
}

func TestProvision_PollingAfterCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.ProgressKey = "poll-me"
	_, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)

	first, err := f.store.Get(context.Background(), progressCacheKey("poll-me"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_ = f.progress(t, "poll-me")
	}
	again, err := f.store.Get(context.Background(), progressCacheKey("poll-me"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, f.progress(t, "poll-me"), f.progress(t, "poll-me"))
}

func TestProvision_ValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(r *Request)
		field string
	}{
		{"trial days above 90", func(r *Request) { d := 100; r.TrialDays = &d }, "trial_days"},
		{"nine hex digit color", func(r *Request) { r.ThemePrimaryColor = "123456789" }, "theme_primary_color"},
		{"uppercase subdomain", func(r *Request) { r.Subdomain = "Acme" }, "subdomain"},
		{"reserved subdomain", func(r *Request) { r.Subdomain = "admin" }, "subdomain"},
		{"bad contact email", func(r *Request) { r.ContactEmail = "not-an-email" }, "contact_email"},
		{"unknown timezone", func(r *Request) { r.Timezone = "Mars/Olympus" }, "timezone"},
		{"two letter currency", func(r *Request) { r.Currency = "US" }, "currency"},
		{"inactive plan", func(r *Request) { r.PlanID = retiredPlanID.String() }, "plan_id"},
		{"oversized logo", func(r *Request) { r.Logo = &Logo{Filename: "l.png", ContentType: "image/png", Data: make([]byte, 2*1024*1024+1)} }, "logo"},
		{"gif logo", func(r *Request) { r.Logo = &Logo{Filename: "l.gif", ContentType: "image/gif", Data: []byte("GIF89a")} }, "logo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			req.ProgressKey = "invalid-run"
			tt.edit(req)

			res, err := f.orch.Provision(context.Background(), req)
			assert.Nil(t, res)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)

			assert.Zero(t, f.w.tenantCount())
			assert.Empty(t, f.w.domains)
			assert.Empty(t, f.w.databases)
			_, err = f.reporter.Get(context.Background(), "invalid-run")
			assert.ErrorIs(t, err, ErrProgressNotFound)
		})
	}
}

func TestProvision_SubdomainAlreadyTaken(t *testing.T) {
	f := newFixture(t)
	f.w.domains["acme.brokerdesk.test"] = "earlier-run"

	req := validRequest()
	req.ProgressKey = "dup"
	_, err := f.orch.Provision(context.Background(), req)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, map[string]string{"subdomain": "has already been taken"}, cerr.Fields)
	assert.Zero(t, f.w.tenantCount())
	_, err = f.reporter.Get(context.Background(), "dup")
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestProvision_DomainAlreadyTaken(t *testing.T) {
	f := newFixture(t)
	f.w.domains["app.example.com"] = "earlier-run"

	_, err := f.orch.Provision(context.Background(), validRequest())
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Fields, "domain")
	assert.Zero(t, f.w.tenantCount())
}

func TestProvision_ConcurrentSameSubdomain(t *testing.T) {
	f := newFixture(t)
	f.w.skipPrecheck = true // both runs pass the pre-check; the reservation decides

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.Domain = []string{"one.example.com", "two.example.com"}[i]
			_, errs[i] = f.orch.Provision(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		var cerr *ConflictError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &cerr):
			conflicts++
			assert.Contains(t, cerr.Fields, "subdomain")
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.w.tenantCount())
}

func TestProvision_FailureAtStepUnwindsEverything(t *testing.T) {
	tests := []struct {
		step        string
		op          string
		compensated []string
	}{
		{StepReserveDomains, "ReserveDomains", nil},
		{StepCreateTenant, "Create", []string{"ReleaseDomains"}},
		{StepCreateDatabase, "CreateDatabase", []string{"Delete", "ReleaseDomains"}},
		{StepRunMigrations, "Migrate", []string{"DropDatabase", "Delete", "ReleaseDomains"}},
		{StepSeedRoles, "SeedRoles", []string{"DropDatabase", "Delete", "ReleaseDomains"}},
		{StepCreateAdminUser, "CreateAdminUser", []string{"DropDatabase", "Delete", "ReleaseDomains"}},
		// the logo is removed by the failing step itself before the unwind
		{StepApplyBranding, "ApplySettings", []string{"DeleteLogo", "DropDatabase", "Delete", "ReleaseDomains"}},
		{StepActivateTenant, "SetStatus", []string{"DeleteLogo", "DropDatabase", "Delete", "ReleaseDomains"}},
		{StepSendWelcome, "SendWelcome", []string{"SetStatus:provisioning", "DeleteLogo", "DropDatabase", "Delete", "ReleaseDomains"}},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			f := newFixture(t)
			f.w.fail[tt.op] = errInjected
			req := validRequest()
			req.Logo = pngLogo()
			req.ProgressKey = "fail-" + tt.step

			res, err := f.orch.Provision(context.Background(), req)
			require.NotNil(t, res)
			assert.Nil(t, res.TenantID)
			var serr *StepError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.step, serr.Step)
			assert.ErrorIs(t, err, errInjected)

			assert.Equal(t, tt.compensated, f.w.journal)
			assert.Zero(t, f.w.tenantCount())
			assert.Empty(t, f.w.domains)
			assert.Empty(t, f.w.databases)
			assert.Empty(t, f.w.logos)
			assert.Empty(t, f.w.welcomes)

			rec := f.progress(t, req.ProgressKey)
			assert.Equal(t, StatusFailed, rec.Status)
			assert.Equal(t, tt.step, rec.FailedStep)
			assert.Equal(t, errInjected.Error(), rec.Error)
			assert.Less(t, rec.Percentage, 100)
			last := rec.Steps[len(rec.Steps)-1]
			assert.Equal(t, tt.step, last.Name)
			assert.Equal(t, StepFailed, last.Status)
		})
	}
}

func TestProvision_CompensationFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.w.fail["SeedRoles"] = errInjected
	f.w.failCompensate["DropDatabase"] = errors.New("database is being accessed by other users")
	req := validRequest()
	req.ProgressKey = "drop-fails"

	_, err := f.orch.Provision(context.Background(), req)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StepSeedRoles, serr.Step)

	assert.Equal(t, []string{"DropDatabase", "Delete", "ReleaseDomains"}, f.w.journal)
	assert.Zero(t, f.w.tenantCount())
	assert.Empty(t, f.w.domains)

	rec := f.progress(t, "drop-fails")
	assert.Equal(t, StatusFailed, rec.Status)
	require.Len(t, rec.Rollback, 3)
	assert.Equal(t, StepCreateDatabase, rec.Rollback[0].Name)
	assert.Equal(t, StepCompensationFailed, rec.Rollback[0].Status)
	assert.Equal(t, StepCompensated, rec.Rollback[1].Status)
	assert.Equal(t, StepCompensated, rec.Rollback[2].Status)
}

func TestProvision_ProgressKeyInUse(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.ProgressKey = "same"
	_, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	before := f.progress(t, "same")

	again := validRequest()
	again.Subdomain = "other"
	again.Domain = "other.example.com"
	again.ProgressKey = "same"
	_, err = f.orch.Provision(context.Background(), again)
	assert.ErrorIs(t, err, ErrProgressKeyInUse)
	assert.Equal(t, 1, f.w.tenantCount())
	assert.Equal(t, before, f.progress(t, "same"))
}

func TestProvision_TrialDefaults(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return now }

	req := validRequest()
	req.TrialDays = nil
	res, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	tenant := f.w.tenants[*res.TenantID]
	require.NotNil(t, tenant.TrialEndsAt)
	assert.Equal(t, now.AddDate(0, 0, 14), *tenant.TrialEndsAt, "plan trial length applies")

	zero := 0
	req = validRequest()
	req.Subdomain, req.Domain = "notrial", "notrial.example.com"
	req.TrialDays = &zero
	res, err = f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, f.w.tenants[*res.TenantID].TrialEndsAt)
}
