// Package tenantdb manages the lifecycle of per-tenant PostgreSQL databases:
// creation, schema migration, seeding and teardown.
package tenantdb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/pkg/database"
	"github.com/brokerdesk/backoffice/pkg/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TemporaryPasswordLength is the length of generated admin passwords.
const TemporaryPasswordLength = 16

var databaseNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ErrInvalidDatabaseName guards every statement that interpolates a database identifier.
var ErrInvalidDatabaseName = errors.New("invalid tenant database name")

// AdminUser is the first user of a tenant.
type AdminUser struct {
	FirstName string
	LastName  string
	Email     string
}

// AdminCredentials is returned once, for the welcome notification.
type AdminCredentials struct {
	UserID            uuid.UUID
	Email             string
	TemporaryPassword string
}

// Manager creates and prepares tenant databases on one PostgreSQL server.
type Manager struct {
	admin  *pgxpool.Pool
	dsn    string
	prefix string
	logger *zap.Logger
}

// NewManager creates a manager. admin must be allowed to CREATE DATABASE; dsn
// is the template used to reach tenant databases (its database name is replaced).
func NewManager(admin *pgxpool.Pool, dsn, prefix string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "tenant_"
	}
	return &Manager{admin: admin, dsn: dsn, prefix: prefix, logger: logger}
}

// DatabaseName derives the tenant database name from its id.
func (m *Manager) DatabaseName(tenantID uuid.UUID) string {
	return m.prefix + strings.ReplaceAll(tenantID.String(), "-", "")
}

func validName(name string) error {
	if !databaseNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, name)
	}
	return nil
}

// CreateDatabase issues CREATE DATABASE. It cannot run inside a transaction.
func (m *Manager) CreateDatabase(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := m.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		if database.IsDuplicateDatabase(err) {
			return fmt.Errorf("database %s already exists: %w", name, err)
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	m.logger.Info("tenant database created", zap.String("database", name))
	return nil
}

// DropDatabase drops the database, terminating open connections.
func (m *Manager) DropDatabase(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := m.admin.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)"); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	m.logger.Info("tenant database dropped", zap.String("database", name))
	return nil
}

func (m *Manager) withPool(ctx context.Context, name string, fn func(*pgxpool.Pool) error) error {
	if err := validName(name); err != nil {
		return err
	}
	pool, err := database.NewDatabasePool(ctx, m.dsn, name, 2)
	if err != nil {
		return fmt.Errorf("connect tenant database %s: %w", name, err)
	}
	defer pool.Close()
	return fn(pool)
}

// Migrate applies the embedded tenant schema.
func (m *Manager) Migrate(ctx context.Context, name string) error {
	return m.withPool(ctx, name, func(pool *pgxpool.Pool) error {
		n, err := database.ApplyMigrations(ctx, pool, migrationsFS, "migrations")
		if err != nil {
			return err
		}
		m.logger.Info("tenant migrations applied", zap.String("database", name), zap.Int("count", n))
		return nil
	})
}

// SeedRoles inserts DefaultRoles and the permission catalogue. Safe to re-run.
func (m *Manager) SeedRoles(ctx context.Context, name string) error {
	return m.withPool(ctx, name, func(pool *pgxpool.Pool) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin seed: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

		for _, p := range Permissions {
			if _, err := tx.Exec(ctx, `INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, p); err != nil {
				return fmt.Errorf("seed permission %s: %w", p, err)
			}
		}
		for _, r := range DefaultRoles() {
			var roleID int
			err := tx.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
				RETURNING id`, r.Name, r.Description).Scan(&roleID)
			if err != nil {
				return fmt.Errorf("seed role %s: %w", r.Name, err)
			}
			_, err = tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
				SELECT $1, id FROM permissions WHERE name = ANY($2)
				ON CONFLICT DO NOTHING`, roleID, r.Permissions)
			if err != nil {
				return fmt.Errorf("seed role permissions %s: %w", r.Name, err)
			}
		}
		return tx.Commit(ctx)
	})
}

// CreateAdminUser inserts the tenant's first admin with a random temporary password.
func (m *Manager) CreateAdminUser(ctx context.Context, name string, u AdminUser) (*AdminCredentials, error) {
	password, err := utils.RandomPassword(TemporaryPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	creds := &AdminCredentials{Email: u.Email, TemporaryPassword: password}
	err = m.withPool(ctx, name, func(pool *pgxpool.Pool) error {
		const q = `INSERT INTO users (first_name, last_name, email, password_hash, role_id, must_change_password)
			SELECT $1, $2, $3, $4, r.id, TRUE FROM roles r WHERE r.name = $5
			RETURNING id`
		if err := pool.QueryRow(ctx, q, u.FirstName, u.LastName, u.Email, hash, RoleAdmin).Scan(&creds.UserID); err != nil {
			if database.IsNoRows(err) {
				return fmt.Errorf("role %s not seeded", RoleAdmin)
			}
			return fmt.Errorf("insert admin user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// ApplySettings upserts key/value settings.
func (m *Manager) ApplySettings(ctx context.Context, name string, settings map[string]string) error {
	if len(settings) == 0 {
		return nil
	}
	return m.withPool(ctx, name, func(pool *pgxpool.Pool) error {
		batch := &pgx.Batch{}
		for k, v := range settings {
			batch.Queue(`INSERT INTO settings (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, k, v)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("apply settings: %w", err)
		}
		return nil
	})
}

// Usage is the current consumption of plan-limited resources.
type Usage struct {
	Users     int
	Customers int
}

// CountUsage counts active users and live customers in a tenant database.
func (m *Manager) CountUsage(ctx context.Context, name string) (Usage, error) {
	var u Usage
	err := m.withPool(ctx, name, func(pool *pgxpool.Pool) error {
		const q = `SELECT
			(SELECT COUNT(*) FROM users WHERE is_active),
			(SELECT COUNT(*) FROM customers WHERE deleted_at IS NULL)`
		return pool.QueryRow(ctx, q).Scan(&u.Users, &u.Customers)
	})
	if err != nil {
		return Usage{}, fmt.Errorf("count usage in %s: %w", name, err)
	}
	return u, nil
}
