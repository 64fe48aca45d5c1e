package tenants

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/response"
)

// Handler handles tenant listing endpoints of the admin panel.
type Handler struct {
	repo *Repository
}

// NewHandler creates a tenants handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /admin/tenants?status=active. Defaults to active tenants;
// status=all lists every row including in-flight provisioning.
func (h *Handler) List(c *gin.Context) {
	status := models.TenantStatus(c.DefaultQuery("status", string(models.TenantStatusActive)))
	switch status {
	case "all":
		status = ""
	case models.TenantStatusActive, models.TenantStatusProvisioning, models.TenantStatusSuspended:
	default:
		response.BadRequest(c, "invalid status filter")
		return
	}
	list, err := h.repo.List(c.Request.Context(), status)
	if err != nil {
		response.Internal(c, "failed to load tenants")
		return
	}
	response.OK(c, list)
}

// Get handles GET /admin/tenants/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid tenant id")
		return
	}
	t, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			response.NotFound(c, "tenant not found")
			return
		}
		response.Internal(c, "failed to load tenant")
		return
	}
	response.OK(c, t)
}
