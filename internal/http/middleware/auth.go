// README: Firebase bearer-token auth; exposes the caller's uid and role to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bidride/internal/infra"
	"bidride/internal/types"
)

const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"

	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, roleFromClaims(token.Claims))
		c.Next()
	}
}

// roleFromClaims reads the "role" custom claim; anything but driver is a passenger.
func roleFromClaims(claims map[string]interface{}) string {
	if v, ok := claims["role"].(string); ok && v == RoleDriver {
		return RoleDriver
	}
	return RolePassenger
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerID(c *gin.Context) types.UserID {
	return types.UserID(CallerUID(c))
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func IsDriver(c *gin.Context) bool {
	return CallerRole(c) == RoleDriver
}
