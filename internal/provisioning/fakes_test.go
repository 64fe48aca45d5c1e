package provisioning

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/plans"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
	"github.com/brokerdesk/backoffice/internal/tenants"
	"github.com/brokerdesk/backoffice/pkg/cache"
)

var (
	starterPlanID  = uuid.MustParse("0b8f3c55-6a0e-4d52-9d1e-3f2a1c4b5d60")
	retiredPlanID  = uuid.MustParse("9c1d2e3f-4a5b-4c6d-8e7f-a0b1c2d3e4f5")
	errInjected    = errors.New("injected failure")
	testBaseDomain = "brokerdesk.test"
)

// world is the shared state behind every fake, with a journal of
// compensating calls in the order they happened.
type world struct {
	mu             sync.Mutex
	domains        map[string]string // domain -> reservation token
	tenants        map[uuid.UUID]*models.Tenant
	databases      map[string]bool
	logos          map[string]bool
	welcomes       []notifications.Welcome
	fail           map[string]error
	failCompensate map[string]error
	journal        []string
	skipPrecheck   bool
}

func newWorld() *world {
	return &world{
		domains:        map[string]string{},
		tenants:        map[uuid.UUID]*models.Tenant{},
		databases:      map[string]bool{},
		logos:          map[string]bool{},
		fail:           map[string]error{},
		failCompensate: map[string]error{},
	}
}

func (w *world) injected(op string) error {
	return w.fail[op]
}

func (w *world) compensating(op string) error {
	w.journal = append(w.journal, op)
	return w.failCompensate[op]
}

func (w *world) tenantCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tenants)
}

type fakePlans struct{}

func (fakePlans) FindActivePlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	if id == starterPlanID {
		return &models.Plan{ID: starterPlanID, Name: "Starter", Slug: "starter", MaxUsers: 5, MaxCustomers: 500, TrialDays: 14, IsActive: true}, nil
	}
	return nil, plans.ErrPlanNotFound
}

type fakeTenants struct{ w *world }

func (f fakeTenants) TakenDomains(ctx context.Context, domains []string) ([]string, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.skipPrecheck {
		return nil, nil
	}
	var taken []string
	for _, d := range domains {
		if _, ok := f.w.domains[d]; ok {
			taken = append(taken, d)
		}
	}
	return taken, nil
}

func (f fakeTenants) ReserveDomains(ctx context.Context, token string, domains []string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("ReserveDomains"); err != nil {
		return err
	}
	for _, d := range domains {
		if _, ok := f.w.domains[d]; ok {
			return &tenants.DomainTakenError{Domain: d}
		}
	}
	for _, d := range domains {
		f.w.domains[d] = token
	}
	return nil
}

func (f fakeTenants) ReleaseDomains(ctx context.Context, token string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.compensating("ReleaseDomains"); err != nil {
		return err
	}
	for d, tok := range f.w.domains {
		if tok == token {
			delete(f.w.domains, d)
		}
	}
	return nil
}

func (f fakeTenants) Create(ctx context.Context, t *models.Tenant, token string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("Create"); err != nil {
		return err
	}
	cp := *t
	f.w.tenants[t.ID] = &cp
	return nil
}

func (f fakeTenants) Delete(ctx context.Context, id uuid.UUID) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.compensating("Delete"); err != nil {
		return err
	}
	if _, ok := f.w.tenants[id]; !ok {
		return tenants.ErrTenantNotFound
	}
	delete(f.w.tenants, id)
	return nil
}

func (f fakeTenants) SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if status == models.TenantStatusProvisioning {
		if err := f.w.compensating("SetStatus:provisioning"); err != nil {
			return err
		}
	} else if err := f.w.injected("SetStatus"); err != nil {
		return err
	}
	t, ok := f.w.tenants[id]
	if !ok {
		return tenants.ErrTenantNotFound
	}
	t.Status = status
	return nil
}

func (f fakeTenants) UpdateMetadata(ctx context.Context, id uuid.UUID, meta models.TenantMetadata) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	t, ok := f.w.tenants[id]
	if !ok {
		return tenants.ErrTenantNotFound
	}
	t.Metadata = meta
	return nil
}

type fakeDatabases struct{ w *world }

func (f fakeDatabases) DatabaseName(id uuid.UUID) string { return "tenant_" + id.String()[:8] }

func (f fakeDatabases) CreateDatabase(ctx context.Context, name string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("CreateDatabase"); err != nil {
		return err
	}
	f.w.databases[name] = true
	return nil
}

func (f fakeDatabases) DropDatabase(ctx context.Context, name string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.compensating("DropDatabase"); err != nil {
		return err
	}
	delete(f.w.databases, name)
	return nil
}

func (f fakeDatabases) Migrate(ctx context.Context, name string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.injected("Migrate")
}

func (f fakeDatabases) SeedRoles(ctx context.Context, name string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.injected("SeedRoles")
}

func (f fakeDatabases) CreateAdminUser(ctx context.Context, name string, u tenantdb.AdminUser) (*tenantdb.AdminCredentials, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("CreateAdminUser"); err != nil {
		return nil, err
	}
	return &tenantdb.AdminCredentials{UserID: uuid.New(), Email: u.Email, TemporaryPassword: "Temp0rary-Pass"}, nil
}

func (f fakeDatabases) ApplySettings(ctx context.Context, name string, settings map[string]string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.injected("ApplySettings")
}

type fakeLogos struct{ w *world }

func (f fakeLogos) UploadLogo(ctx context.Context, tenantID uuid.UUID, contentType string, body io.Reader, size int64) (string, string, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("UploadLogo"); err != nil {
		return "", "", err
	}
	key := "logos/" + tenantID.String() + "/logo.png"
	f.w.logos[key] = true
	return key, "https://logos.test/" + key, nil
}

func (f fakeLogos) DeleteLogo(ctx context.Context, key string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.compensating("DeleteLogo"); err != nil {
		return err
	}
	delete(f.w.logos, key)
	return nil
}

type fakeNotifier struct{ w *world }

func (f fakeNotifier) SendWelcome(ctx context.Context, msg notifications.Welcome) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if err := f.w.injected("SendWelcome"); err != nil {
		return err
	}
	f.w.welcomes = append(f.w.welcomes, msg)
	return nil
}

type fixture struct {
	w        *world
	store    *cache.MemoryStore
	orch     *Orchestrator
	reporter *Reporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := newWorld()
	store := cache.NewMemoryStore()
	orch := NewOrchestrator(Deps{
		Plans:     fakePlans{},
		Tenants:   fakeTenants{w},
		Databases: fakeDatabases{w},
		Logos:     fakeLogos{w},
		Notifier:  fakeNotifier{w},
		Tracker:   NewTracker(store, 30*time.Minute, nil, nil),
	}, Settings{BaseDomain: testBaseDomain, DefaultTrialDays: 30}, nil)
	return &fixture{w: w, store: store, orch: orch, reporter: NewReporter(store)}
}

func validRequest() *Request {
	days := 14
	return &Request{
		CompanyName:       "Acme Brokers",
		Subdomain:         "acme",
		Domain:            "app.example.com",
		ContactEmail:      "ops@acme.test",
		PlanID:            starterPlanID.String(),
		AdminFirstName:    "Jane",
		AdminLastName:     "Doe",
		AdminEmail:        "jane@acme.test",
		ThemePrimaryColor: "#1A2B3C",
		TrialDays:         &days,
		Timezone:          "UTC",
		Currency:          "gbp",
	}
}

func pngLogo() *Logo {
	return &Logo{Filename: "logo.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nfake")}
}

func (f *fixture) progress(t *testing.T, key string) *ProgressRecord {
	t.Helper()
	rec, err := f.reporter.Get(context.Background(), key)
	require.NoError(t, err)
	return rec
}
