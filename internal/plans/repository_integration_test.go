package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/backoffice/pkg/database/dbtest"
)

func TestRepository_ActivePlans(t *testing.T) {
	pool := dbtest.CentralPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	var legacyID uuid.UUID
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO plans (name, slug, price, max_users, is_active, sort_order)
		 VALUES ('Legacy', 'legacy', 1900, 1, FALSE, 0) RETURNING id`).Scan(&legacyID))

	t.Run("inactive plan is not offered", func(t *testing.T) {
		_, err := repo.FindActivePlan(ctx, legacyID)
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("inactive plan is still readable by id", func(t *testing.T) {
		plan, err := repo.GetByID(ctx, legacyID)
		require.NoError(t, err)
		assert.Equal(t, "legacy", plan.Slug)
		assert.False(t, plan.IsActive)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := repo.FindActivePlan(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("list skips inactive and keeps sort order", func(t *testing.T) {
		list, err := repo.ListActive(ctx)
		require.NoError(t, err)
		slugs := make([]string, 0, len(list))
		for _, p := range list {
			slugs = append(slugs, p.Slug)
		}
		assert.Equal(t, []string{"starter", "professional", "enterprise"}, slugs)

		starter, err := repo.FindActivePlan(ctx, list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 3, starter.MaxUsers)
		assert.Equal(t, "USD", starter.Currency)
	})
}
