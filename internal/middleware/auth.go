package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
)

// Context keys written by AuthMiddleware.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
	CtxRoles  = "roles"
)

// AuthMiddleware enforces Authorization: Bearer <jwt> on protected routes.
// The token subject must resolve to an active party; on success it injects
// "user_id" (uint), "role" and "roles" into gin.Context for handlers.
func AuthMiddleware(verifier services.CredentialVerifier, parties services.PartyDirectory, logger *logrus.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])
		if token == "" || verifier == nil {
			unauthorized(c, "invalid token or server misconfig")
			return
		}

		partyID, err := verifier.Verify(token)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}
		party, err := parties.FindPartyFresh(c.Request.Context(), partyID)
		if err != nil {
			logger.WithError(err).WithField("user_id", partyID).Debug("token subject lookup failed")
			unauthorized(c, "unknown account")
			return
		}
		if party.Status != models.UserStatusActive {
			unauthorized(c, "account disabled")
			return
		}

		c.Set(CtxUserID, party.ID)
		c.Set(CtxRole, party.Role)
		c.Set(CtxRoles, []string{party.Role})
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": msg,
	})
}
