// Package usage compares tenant resource counts with their plan limits and
// raises one alert per threshold per month.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
)

// TenantLister lists tenants to scan.
type TenantLister interface {
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

// PlanGetter loads a tenant's plan, active or not.
type PlanGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// UsageCounter counts plan-limited resources in a tenant database.
type UsageCounter interface {
	CountUsage(ctx context.Context, databaseName string) (tenantdb.Usage, error)
}

// AlertStore persists alerts; Insert reports false for a duplicate.
type AlertStore interface {
	Insert(ctx context.Context, a *models.UsageAlert) (bool, error)
}

// AlertNotifier emails the tenant contact.
type AlertNotifier interface {
	SendUsageAlert(ctx context.Context, a notifications.UsageAlert) error
}

// Summary is the outcome of one scan.
type Summary struct {
	Tenants   int
	NewAlerts int
	Emails    int
	Errors    int
}

// Checker runs usage scans.
type Checker struct {
	tenants    TenantLister
	plans      PlanGetter
	counter    UsageCounter
	alerts     AlertStore
	notifier   AlertNotifier
	thresholds []int
	now        func() time.Time
	logger     *zap.Logger
}

// NewChecker creates a checker. Empty thresholds fall back to DefaultThresholds.
func NewChecker(tenants TenantLister, plans PlanGetter, counter UsageCounter, alerts AlertStore, notifier AlertNotifier, thresholds []int, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	return &Checker{
		tenants:    tenants,
		plans:      plans,
		counter:    counter,
		alerts:     alerts,
		notifier:   notifier,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger,
	}
}

// Period returns the alert period (YYYY-MM) for t.
func Period(t time.Time) string { return t.UTC().Format("2006-01") }

// Run scans every active tenant once. A failing tenant is logged and skipped.
func (c *Checker) Run(ctx context.Context) (Summary, error) {
	list, err := c.tenants.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list tenants: %w", err)
	}
	var sum Summary
	period := Period(c.now())
	for _, t := range list {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Tenants++
		alerts, emails, err := c.checkTenant(ctx, t, period)
		sum.NewAlerts += alerts
		sum.Emails += emails
		if err != nil {
			sum.Errors++
			c.logger.Warn("usage check failed", zap.String("tenant_id", t.ID.String()), zap.Error(err))
		}
	}
	c.logger.Info("usage scan finished",
		zap.Int("tenants", sum.Tenants), zap.Int("new_alerts", sum.NewAlerts),
		zap.Int("emails", sum.Emails), zap.Int("errors", sum.Errors))
	return sum, nil
}

func (c *Checker) checkTenant(ctx context.Context, t *models.Tenant, period string) (int, int, error) {
	plan, err := c.plans.GetByID(ctx, t.PlanID)
	if err != nil {
		return 0, 0, fmt.Errorf("load plan: %w", err)
	}
	if plan.MaxUsers <= 0 && plan.MaxCustomers <= 0 {
		return 0, 0, nil
	}
	u, err := c.counter.CountUsage(ctx, t.DatabaseName)
	if err != nil {
		return 0, 0, err
	}

	var inserted, emailed int
	for _, m := range []struct {
		metric      string
		used, limit int
	}{
		{models.MetricUsers, u.Users, plan.MaxUsers},
		{models.MetricCustomers, u.Customers, plan.MaxCustomers},
	} {
		highest := 0
		for _, th := range CrossedThresholds(m.used, m.limit, c.thresholds) {
			alert := &models.UsageAlert{
				TenantID:         t.ID,
				Metric:           m.metric,
				ThresholdPercent: th,
				Used:             m.used,
				Limit:            m.limit,
				Period:           period,
			}
			isNew, err := c.alerts.Insert(ctx, alert)
			if err != nil {
				return inserted, emailed, err
			}
			if isNew {
				inserted++
				highest = th
			}
		}
		if highest == 0 {
			continue
		}
		// one email per metric, for the highest threshold newly reached
		err := c.notifier.SendUsageAlert(ctx, notifications.UsageAlert{
			TenantID:         t.ID,
			CompanyName:      t.CompanyName,
			RecipientEmail:   t.ContactEmail,
			Metric:           m.metric,
			ThresholdPercent: highest,
			Used:             m.used,
			Limit:            m.limit,
			PlanName:         plan.Name,
		})
		if err != nil {
			return inserted, emailed, err
		}
		emailed++
	}
	return inserted, emailed, nil
}
