package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chorus/internal/apperror"
	"go.uber.org/zap"
)

// respondError maps an apperror kind onto an HTTP status. Internal causes
// are logged and never shown to the client.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	appErr := apperror.As(err)

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperror.KindAuthentication:
		status = http.StatusUnauthorized
	case apperror.KindAuthorization:
		status = http.StatusForbidden
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperror.KindConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.Error("failed to "+op, zap.Error(err))
		c.JSON(status, gin.H{"error": "failed to " + op})
		return
	}
	c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
}
