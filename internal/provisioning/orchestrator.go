// Package provisioning creates tenants: it validates the request, runs the
// fixed step sequence with per-step progress, and unwinds completed steps when
// one fails.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/plans"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
	"github.com/brokerdesk/backoffice/internal/tenants"
)

// PlanFinder is the plan registry lookup.
type PlanFinder interface {
	FindActivePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// TenantStore persists tenants and domain reservations in the central database.
type TenantStore interface {
	TakenDomains(ctx context.Context, domains []string) ([]string, error)
	ReserveDomains(ctx context.Context, token string, domains []string) error
	ReleaseDomains(ctx context.Context, token string) error
	Create(ctx context.Context, t *models.Tenant, token string) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, meta models.TenantMetadata) error
}

// DatabaseProvisioner prepares the isolated tenant database.
type DatabaseProvisioner interface {
	DatabaseName(tenantID uuid.UUID) string
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	Migrate(ctx context.Context, name string) error
	SeedRoles(ctx context.Context, name string) error
	CreateAdminUser(ctx context.Context, name string, u tenantdb.AdminUser) (*tenantdb.AdminCredentials, error)
	ApplySettings(ctx context.Context, name string, settings map[string]string) error
}

// LogoStorage stores branding images.
type LogoStorage interface {
	UploadLogo(ctx context.Context, tenantID uuid.UUID, contentType string, body io.Reader, size int64) (key, url string, err error)
	DeleteLogo(ctx context.Context, key string) error
}

// Notifier queues the welcome email.
type Notifier interface {
	SendWelcome(ctx context.Context, msg notifications.Welcome) error
}

// Settings are defaults applied when the request leaves a field empty.
type Settings struct {
	BaseDomain       string
	DefaultTrialDays int
	DefaultTimezone  string
	DefaultCurrency  string
	LoginURLTemplate string // %s is replaced by the tenant host
}

// Deps groups the orchestrator collaborators.
type Deps struct {
	Plans     PlanFinder
	Tenants   TenantStore
	Databases DatabaseProvisioner
	Logos     LogoStorage
	Notifier  Notifier
	Tracker   *Tracker
}

// Result is returned for every run that got past validation.
type Result struct {
	ProgressKey string     `json:"progress_key"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
}

// Orchestrator runs provisioning requests.
type Orchestrator struct {
	plans     PlanFinder
	tenants   TenantStore
	databases DatabaseProvisioner
	logos     LogoStorage
	notifier  Notifier
	tracker   *Tracker
	validate  *validator.Validate
	settings  Settings
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, settings Settings, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DefaultTimezone == "" {
		settings.DefaultTimezone = "UTC"
	}
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = "USD"
	}
	return &Orchestrator{
		plans:     deps.Plans,
		tenants:   deps.Tenants,
		databases: deps.Databases,
		logos:     deps.Logos,
		notifier:  deps.Notifier,
		tracker:   deps.Tracker,
		validate:  NewValidator(),
		settings:  settings,
		now:       time.Now,
		logger:    logger,
	}
}

// Provision validates req and, if valid, runs every step in order.
//
// Validation failures return *ValidationError and conflicts found by the
// pre-check return *ConflictError; in both cases nothing is written, not even
// a progress record. A step failure unwinds the completed steps in reverse and
// returns *StepError, or *ConflictError when the domain insert lost a race.
// The Result is non-nil whenever a progress record was started.
func (o *Orchestrator) Provision(ctx context.Context, req *Request) (*Result, error) {
	r, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	key := req.ProgressKey
	if key == "" {
		key = uuid.NewString()
	}
	steps := o.steps()
	rec, err := o.tracker.Start(ctx, key, len(steps))
	if err != nil {
		return nil, err
	}
	result := &Result{ProgressKey: key}
	log := o.logger.With(zap.String("progress_key", key), zap.String("subdomain", req.Subdomain))
	log.Info("provisioning started", zap.Int("total_steps", len(steps)))

	done := make([]Step, 0, len(steps))
	for i, step := range steps {
		o.record(log, o.tracker.BeginStep(ctx, rec, i+1, step.Name))
		msg, err := step.Run(ctx, r)
		if err != nil {
			log.Error("provisioning step failed", zap.String("step", step.Name), zap.Error(err))
			o.record(log, o.tracker.FailStep(ctx, rec, step.Name, err))
			rollback := o.compensate(context.WithoutCancel(ctx), log, r, done)
			o.record(log, o.tracker.Fail(ctx, rec, rollback))

			var taken *tenants.DomainTakenError
			if errors.As(err, &taken) {
				return result, o.conflictFor(r, taken.Domain)
			}
			return result, &StepError{Step: step.Name, ProgressKey: key, Err: err}
		}
		o.record(log, o.tracker.CompleteStep(ctx, rec, step.Name, msg))
		log.Info("provisioning step completed", zap.String("step", step.Name), zap.Int("percentage", rec.Percentage))
		done = append(done, step)
	}

	o.record(log, o.tracker.Complete(ctx, rec, r.tenant.ID))
	log.Info("provisioning completed", zap.String("tenant_id", r.tenant.ID.String()))
	id := r.tenant.ID
	result.TenantID = &id
	return result, nil
}

// prepare runs every check that must pass before the first write.
func (o *Orchestrator) prepare(ctx context.Context, req *Request) (*run, error) {
	if req == nil {
		return nil, &ValidationError{Fields: map[string]string{"request": "is required"}}
	}
	req.Normalize()
	if verr := Validate(o.validate, req); verr != nil {
		return nil, verr
	}
	if req.Currency != "" {
		req.Currency = strings.ToUpper(req.Currency)
	}

	planID, _ := uuid.Parse(req.PlanID)
	plan, err := o.plans.FindActivePlan(ctx, planID)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			return nil, &ValidationError{Fields: map[string]string{"plan_id": "must reference an active plan"}}
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}

	r := &run{
		req:     req,
		plan:    plan,
		token:   uuid.NewString(),
		domains: o.domainsFor(req),
	}
	taken, err := o.tenants.TakenDomains(ctx, r.domains)
	if err != nil {
		return nil, fmt.Errorf("check domains: %w", err)
	}
	if len(taken) > 0 {
		cerr := &ConflictError{Fields: map[string]string{}}
		for _, d := range taken {
			for k, v := range o.conflictFor(r, d).Fields {
				cerr.Fields[k] = v
			}
		}
		return nil, cerr
	}

	if days := o.trialDays(req, plan); days > 0 {
		end := o.now().UTC().AddDate(0, 0, days)
		r.trialEndsAt = &end
	}
	return r, nil
}

// compensate undoes done in reverse order. Failures are logged and skipped.
func (o *Orchestrator) compensate(ctx context.Context, log *zap.Logger, r *run, done []Step) []StepResult {
	var results []StepResult
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		res := StepResult{Name: step.Name, Status: StepCompensated}
		if err := step.Compensate(ctx, r); err != nil {
			log.Error("compensation failed", zap.String("step", step.Name), zap.Error(err))
			res.Status = StepCompensationFailed
			res.Message = err.Error()
		} else {
			log.Info("step compensated", zap.String("step", step.Name))
		}
		res.Timestamp = o.now().UTC()
		results = append(results, res)
	}
	return results
}

// record logs a progress write failure. The run continues without it.
func (o *Orchestrator) record(log *zap.Logger, err error) {
	if err != nil {
		log.Warn("progress write failed", zap.Error(err))
	}
}

func (o *Orchestrator) domainsFor(req *Request) []string {
	domains := []string{o.subdomainHost(req.Subdomain)}
	if req.Domain != domains[0] {
		domains = append(domains, req.Domain)
	}
	return domains
}

func (o *Orchestrator) subdomainHost(sub string) string {
	if o.settings.BaseDomain == "" {
		return sub
	}
	return sub + "." + o.settings.BaseDomain
}

func (o *Orchestrator) conflictFor(r *run, domain string) *ConflictError {
	field := "domain"
	if domain == o.subdomainHost(r.req.Subdomain) || domain == r.req.Subdomain {
		field = "subdomain"
	}
	return &ConflictError{Fields: map[string]string{field: "has already been taken"}}
}

func (o *Orchestrator) trialDays(req *Request, plan *models.Plan) int {
	switch {
	case req.TrialDays != nil:
		return *req.TrialDays
	case plan.TrialDays > 0:
		return plan.TrialDays
	default:
		return o.settings.DefaultTrialDays
	}
}

func (o *Orchestrator) timezone(req *Request) string {
	if req.Timezone != "" {
		return req.Timezone
	}
	return o.settings.DefaultTimezone
}

func (o *Orchestrator) currency(req *Request) string {
	if req.Currency != "" {
		return req.Currency
	}
	return o.settings.DefaultCurrency
}

func (o *Orchestrator) loginURL(subdomain string) string {
	if o.settings.LoginURLTemplate != "" {
		return strings.ReplaceAll(o.settings.LoginURLTemplate, "%s", o.subdomainHost(subdomain))
	}
	return "https://" + o.subdomainHost(subdomain) + "/login"
}
