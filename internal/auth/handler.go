package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/pkg/response"
	"github.com/brokerdesk/backoffice/pkg/utils"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string                     `json:"token"`
	Admin models.PlatformAdminPublic `json:"admin"`
}

// AdminFinder looks up admins by email.
type AdminFinder interface {
	GetByEmail(ctx context.Context, email string) (*models.PlatformAdmin, error)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   AdminFinder
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo AdminFinder, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	admin, err := h.repo.GetByEmail(c.Request.Context(), email)
	if errors.Is(err, ErrAdminNotFound) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("admin lookup failed", zap.Error(err))
		response.Internal(c, "login unavailable")
		return
	}
	if !utils.CheckPassword(req.Password, admin.Password) {
		h.logger.Info("failed admin login", zap.String("email", email))
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(admin.ID, admin.Email, admin.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: TokenResponse{Token: token, Admin: admin.ToPublic()}})
}
