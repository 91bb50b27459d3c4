package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/auth"
)

// AdminTokenHeader is an alternative carrier for the admin token.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuthMiddleware protects the key administration endpoints with a shared admin
// token. tokenHash is the bcrypt hash from auth.admin_token_hash; when it is empty the
// endpoints are disabled and answer 503.
func AdminAuthMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Admin access is not configured",
			})
			return
		}

		token := adminToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing admin token",
			})
			return
		}

		if !auth.VerifyAdminToken(token, tokenHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid admin token",
			})
			return
		}

		c.Next()
	}
}

// adminToken reads a Bearer token first, then X-Admin-Token.
func adminToken(c *gin.Context) string {
	if token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization")); err == nil {
		return token
	}
	return strings.TrimSpace(c.GetHeader(AdminTokenHeader))
}
