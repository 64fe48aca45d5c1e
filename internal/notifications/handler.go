package notifications

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerdesk/backoffice/pkg/response"
)

// Handler handles notification log HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a notification logs handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListByTenant handles GET /admin/tenants/:id/notifications.
func (h *Handler) ListByTenant(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid tenant id")
		return
	}
	logs, err := h.repo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		response.Internal(c, "failed to load notification logs")
		return
	}
	response.OK(c, logs)
}
