package tenantdb

// Role names seeded into every tenant database.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent"
	RoleViewer  = "viewer"
)

// Permissions is the full permission catalogue of a tenant.
var Permissions = []string{
	"customers.view", "customers.manage",
	"policies.view", "policies.manage",
	"claims.view", "claims.manage",
	"quotations.view", "quotations.manage",
	"leads.view", "leads.manage",
	"notifications.send",
	"reports.view",
	"users.manage",
	"settings.manage",
}

// RoleSeed is one default role and its permissions.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []string
}

// DefaultRoles returns the roles every new tenant starts with. Admin gets everything.
func DefaultRoles() []RoleSeed {
	return []RoleSeed{
		{Name: RoleAdmin, Description: "Full access to the brokerage", Permissions: Permissions},
		{Name: RoleManager, Description: "Manages book of business and staff work", Permissions: []string{
			"customers.view", "customers.manage", "policies.view", "policies.manage",
			"claims.view", "claims.manage", "quotations.view", "quotations.manage",
			"leads.view", "leads.manage", "notifications.send", "reports.view",
		}},
		{Name: RoleAgent, Description: "Works customers, quotes and leads", Permissions: []string{
			"customers.view", "customers.manage", "policies.view", "claims.view",
			"quotations.view", "quotations.manage", "leads.view", "leads.manage",
		}},
		{Name: RoleViewer, Description: "Read-only access", Permissions: []string{
			"customers.view", "policies.view", "claims.view", "quotations.view", "leads.view",
		}},
	}
}
