package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/brokerdesk/backoffice/pkg/response"
)

// RequireRole allows only admins whose token carries one of roles. Must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextAdminRole)
		if role == "" {
			response.Unauthorized(c, "missing admin context")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
