package plans

import (
	"github.com/gin-gonic/gin"

	"github.com/brokerdesk/backoffice/pkg/response"
)

// Handler handles plan HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a plans handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListActive handles GET /plans. Feeds the plan picker of the provisioning form.
func (h *Handler) ListActive(c *gin.Context) {
	list, err := h.repo.ListActive(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to load plans")
		return
	}
	response.OK(c, list)
}
