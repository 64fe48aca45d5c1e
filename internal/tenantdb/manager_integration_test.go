package tenantdb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brokerdesk/backoffice/pkg/database"
	"github.com/brokerdesk/backoffice/pkg/database/dbtest"
	"github.com/brokerdesk/backoffice/pkg/utils"
)

func TestManager_TenantDatabaseLifecycle(t *testing.T) {
	dsn := dbtest.Postgres(t)
	ctx := context.Background()

	admin, err := database.NewPostgresPool(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	m := NewManager(admin, dsn, "", zaptest.NewLogger(t))
	name := m.DatabaseName(uuid.New())

	require.NoError(t, m.CreateDatabase(ctx, name))
	err = m.CreateDatabase(ctx, name)
	require.Error(t, err)
	assert.True(t, database.IsDuplicateDatabase(err))

	require.NoError(t, m.Migrate(ctx, name))
	require.NoError(t, m.Migrate(ctx, name), "tenant schema must re-apply cleanly")

	require.NoError(t, m.SeedRoles(ctx, name))
	require.NoError(t, m.SeedRoles(ctx, name))

	creds, err := m.CreateAdminUser(ctx, name, AdminUser{FirstName: "Ada", LastName: "Broker", Email: "ada@acme.test"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, creds.UserID)
	assert.Equal(t, "ada@acme.test", creds.Email)
	assert.Len(t, creds.TemporaryPassword, TemporaryPasswordLength)

	require.NoError(t, m.ApplySettings(ctx, name, map[string]string{"timezone": "UTC", "currency": "USD"}))
	require.NoError(t, m.ApplySettings(ctx, name, map[string]string{"timezone": "Europe/Athens"}))

	tenantPool, err := database.NewDatabasePool(ctx, dsn, name, 2)
	require.NoError(t, err)

	t.Run("roles seeded once", func(t *testing.T) {
		var roles, adminPerms int
		require.NoError(t, tenantPool.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&roles))
		require.NoError(t, tenantPool.QueryRow(ctx,
			`SELECT COUNT(*) FROM role_permissions rp JOIN roles r ON r.id = rp.role_id WHERE r.name = $1`,
			RoleAdmin).Scan(&adminPerms))
		assert.Equal(t, len(DefaultRoles()), roles)
		assert.Equal(t, len(Permissions), adminPerms)
	})

	t.Run("admin user stores a bcrypt hash", func(t *testing.T) {
		var hash, role string
		var mustChange bool
		require.NoError(t, tenantPool.QueryRow(ctx,
			`SELECT u.password_hash, r.name, u.must_change_password FROM users u JOIN roles r ON r.id = u.role_id WHERE u.id = $1`,
			creds.UserID).Scan(&hash, &role, &mustChange))
		assert.NotEqual(t, creds.TemporaryPassword, hash)
		assert.True(t, utils.CheckPassword(creds.TemporaryPassword, hash))
		assert.Equal(t, RoleAdmin, role)
		assert.True(t, mustChange)
	})

	t.Run("settings upsert", func(t *testing.T) {
		var tz, currency string
		require.NoError(t, tenantPool.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'timezone'`).Scan(&tz))
		require.NoError(t, tenantPool.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'currency'`).Scan(&currency))
		assert.Equal(t, "Europe/Athens", tz)
		assert.Equal(t, "USD", currency)
	})

	usage, err := m.CountUsage(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, Usage{Users: 1, Customers: 0}, usage)

	// the drop must succeed even with this pool still connected
	require.NoError(t, m.DropDatabase(ctx, name))
	tenantPool.Close()

	var exists bool
	require.NoError(t, admin.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists))
	assert.False(t, exists)
	require.NoError(t, m.DropDatabase(ctx, name), "dropping a missing database is a no-op")
}
