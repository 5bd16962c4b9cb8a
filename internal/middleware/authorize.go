package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRolesAny returns a middleware that checks if the request context
// contains at least one of the required roles in "roles" (set by AuthMiddleware).
func RequireRolesAny(required ...string) gin.HandlerFunc {
	reqSet := make(map[string]struct{}, len(required))
	for _, r := range required {
		reqSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		var roles []string
		if v, ok := c.Get(CtxRoles); ok {
			if t, ok := v.([]string); ok {
				roles = t
			}
		}
		// tolerate single role as string
		if len(roles) == 0 {
			if s := c.GetString(CtxRole); s != "" {
				roles = []string{s}
			}
		}
		for _, r := range roles {
			if _, ok := reqSet[r]; ok {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Forbidden",
			"message": "insufficient role",
		})
	}
}
