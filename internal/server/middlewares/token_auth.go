package middlewares

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenAuth guards the admin endpoints with a static bearer token. An empty
// token disables the check, which is only sane for localhost deployments.
func TokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		slog.Warn("admin auth disabled, endpoints are open")
		return func(c *gin.Context) {
			c.Next()
		}
	}
	slog.Info("admin auth enabled")

	return func(c *gin.Context) {
		presented := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if presented == "" {
			presented = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			slog.Debug("admin auth rejected", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		c.Set("authenticated", true)
		c.Next()
	}
}
