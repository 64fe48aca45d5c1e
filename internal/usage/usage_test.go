package usage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
)

func TestCrossedThresholds(t *testing.T) {
	th := []int{100, 80, 90}
	tests := []struct {
		used, limit int
		want        []int
	}{
		{0, 10, nil},
		{7, 10, nil},
		{8, 10, []int{80}},
		{9, 10, []int{80, 90}},
		{10, 10, []int{80, 90, 100}},
		{15, 10, []int{80, 90, 100}},
		{399, 500, nil},
		{400, 500, []int{80}},
		{50, 0, nil},
		{50, -1, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.used, tt.limit), func(t *testing.T) {
			assert.Equal(t, tt.want, CrossedThresholds(tt.used, tt.limit, th))
		})
	}
}

func TestPeriod(t *testing.T) {
	assert.Equal(t, "2026-02", Period(time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)))
}

type fakeTenants []*models.Tenant

func (f fakeTenants) ListActive(ctx context.Context) ([]*models.Tenant, error) { return f, nil }

type fakePlans map[uuid.UUID]*models.Plan

func (f fakePlans) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, errors.New("plan not found")
}

type fakeCounter map[string]tenantdb.Usage

func (f fakeCounter) CountUsage(ctx context.Context, name string) (tenantdb.Usage, error) {
	u, ok := f[name]
	if !ok {
		return tenantdb.Usage{}, errors.New("database unreachable")
	}
	return u, nil
}

type memAlerts struct {
	seen map[string]bool
}

func (m *memAlerts) Insert(ctx context.Context, a *models.UsageAlert) (bool, error) {
	k := fmt.Sprintf("%s/%s/%d/%s", a.TenantID, a.Metric, a.ThresholdPercent, a.Period)
	if m.seen[k] {
		return false, nil
	}
	m.seen[k] = true
	return true, nil
}

type fakeNotifier struct {
	sent []notifications.UsageAlert
}

func (f *fakeNotifier) SendUsageAlert(ctx context.Context, a notifications.UsageAlert) error {
	f.sent = append(f.sent, a)
	return nil
}

func TestChecker_Run(t *testing.T) {
	starter := &models.Plan{ID: uuid.New(), Name: "Starter", MaxUsers: 5, MaxCustomers: 100}
	unlimited := &models.Plan{ID: uuid.New(), Name: "Enterprise"}
	acme := &models.Tenant{ID: uuid.New(), CompanyName: "Acme", ContactEmail: "ops@acme.test", PlanID: starter.ID, DatabaseName: "tenant_acme"}
	big := &models.Tenant{ID: uuid.New(), CompanyName: "Big", ContactEmail: "ops@big.test", PlanID: unlimited.ID, DatabaseName: "tenant_big"}
	broken := &models.Tenant{ID: uuid.New(), CompanyName: "Broken", PlanID: starter.ID, DatabaseName: "tenant_gone"}

	counter := fakeCounter{
		"tenant_acme": {Users: 5, Customers: 85},
		"tenant_big":  {Users: 5000, Customers: 90000},
	}
	alerts := &memAlerts{seen: map[string]bool{}}
	notifier := &fakeNotifier{}
	c := NewChecker(fakeTenants{acme, big, broken}, fakePlans{starter.ID: starter, unlimited.ID: unlimited},
		counter, alerts, notifier, nil, nil)
	c.now = func() time.Time { return time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC) }

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Tenants: 3, NewAlerts: 4, Emails: 2, Errors: 1}, sum)

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, models.MetricUsers, notifier.sent[0].Metric)
	assert.Equal(t, 100, notifier.sent[0].ThresholdPercent)
	assert.Equal(t, models.MetricCustomers, notifier.sent[1].Metric)
	assert.Equal(t, 80, notifier.sent[1].ThresholdPercent)
	assert.Equal(t, "ops@acme.test", notifier.sent[1].RecipientEmail)

	// same month: nothing new, nothing emailed
	sum, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.NewAlerts)
	assert.Len(t, notifier.sent, 2)

	// customers climb to 90% in the same month: only the new threshold is emailed
	counter["tenant_acme"] = tenantdb.Usage{Users: 5, Customers: 90}
	sum, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewAlerts)
	require.Len(t, notifier.sent, 3)
	assert.Equal(t, 90, notifier.sent[2].ThresholdPercent)
}
