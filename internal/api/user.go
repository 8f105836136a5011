package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chorus/internal/middleware"
	"github.com/lalith-99/chorus/internal/repository"
	"go.uber.org/zap"
)

// UserHandler handles user-related operations.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Returns the currently authenticated user's profile.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	// The authenticator already resolved this user, so a miss here means
	// the row was removed mid-request.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}
