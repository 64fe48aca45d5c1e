package usage

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerdesk/backoffice/pkg/response"
)

// Handler handles usage alert HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a usage alerts handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListByTenant handles GET /admin/tenants/:id/usage-alerts.
func (h *Handler) ListByTenant(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid tenant id")
		return
	}
	list, err := h.repo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		response.Internal(c, "failed to load usage alerts")
		return
	}
	response.OK(c, list)
}
