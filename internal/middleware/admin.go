package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware guards administrative endpoints: cache invalidation and
// provider health resets change shared state, so they require a key.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware reads the admin key from ADMIN_API_KEY, falling back
// to a development default.
func NewAdminMiddleware() *AdminMiddleware {
	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" {
		apiKey = "admin-dev-key-change-in-production"
	}
	return &AdminMiddleware{apiKey: apiKey}
}

// RequireAdminAuth accepts the key as a Bearer token or in X-API-Key.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && tokenParts[0] == "Bearer" && tokenParts[1] == am.apiKey {
				c.Next()
				return
			}
		}

		if c.GetHeader("X-API-Key") == am.apiKey {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}
