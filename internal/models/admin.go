package models

import (
	"time"

	"github.com/google/uuid"
)

// RolePlatformAdmin is the only role allowed into the provisioning panel.
const RolePlatformAdmin = "platform_admin"

// PlatformAdmin is an operator of the central admin panel.
type PlatformAdmin struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformAdminPublic is PlatformAdmin without sensitive fields for API responses.
type PlatformAdminPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic converts PlatformAdmin to PlatformAdminPublic.
func (a *PlatformAdmin) ToPublic() PlatformAdminPublic {
	return PlatformAdminPublic{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
}
