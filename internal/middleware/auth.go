package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/auth"
	"go.uber.org/zap"
)

// ContextKeyPrincipal is where AuthMiddleware stores the *auth.Principal.
const ContextKeyPrincipal = "principal"

// AuthMiddleware resolves the caller's Principal before any handler runs.
//
// The credential is read from "Authorization: Bearer <token>" or, because
// browsers cannot set headers on a websocket handshake, from the "token"
// query parameter. A failed lookup aborts with 401, so for /v1/ws the
// upgrade never happens and no event is ever processed.
func AuthMiddleware(authenticator auth.Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, ok := extractCredential(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing credential, expected: Bearer <token> or ?token=",
			})
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), credential)
		if err != nil {
			logger.Debug("authentication failed",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

func extractCredential(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], parts[1] != ""
	}
	if tok := c.Query("token"); tok != "" {
		return tok, true
	}
	return "", false
}

// GetPrincipal returns the caller set by AuthMiddleware, or nil on routes
// that are not behind it.
func GetPrincipal(c *gin.Context) *auth.Principal {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil
	}
	p, ok := val.(*auth.Principal)
	if !ok {
		return nil
	}
	return p
}

func GetUserID(c *gin.Context) uuid.UUID {
	if p := GetPrincipal(c); p != nil {
		return p.UserID
	}
	return uuid.Nil
}
