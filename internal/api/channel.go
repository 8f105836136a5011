package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/middleware"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/service"
	"go.uber.org/zap"
)

// ChannelHandler serves channel reads. Writes to channel state happen over
// the websocket; creation and administration live outside this service.
type ChannelHandler struct {
	channels   repository.ChannelRepository
	workspaces repository.WorkspaceRepository
	access     *service.Access
	logger     *zap.Logger
}

func NewChannelHandler(store *repository.Store, access *service.Access, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{
		channels:   store.Channels,
		workspaces: store.Workspaces,
		access:     access,
		logger:     logger,
	}
}

// List handles GET /v1/channels?workspace_id=
//
// Only channels the caller is a member of. Without workspace_id every
// workspace is included.
func (h *ChannelHandler) List(c *gin.Context) {
	workspaceID := uuid.Nil
	if raw := c.Query("workspace_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workspace_id"})
			return
		}
		workspaceID = id
	}

	channels, err := h.channels.ListForUser(c.Request.Context(), middleware.GetUserID(c), workspaceID)
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
		return
	}

	// The repo returns make([]..., 0), so this is [] and never null.
	c.JSON(http.StatusOK, channels)
}

// GetByID handles GET /v1/channels/:id
//
// Public channels are visible to every member of their workspace. Private
// ones only to their members.
func (h *ChannelHandler) GetByID(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	ch, err := h.visibleChannel(c, channelID)
	if err != nil {
		respondError(c, h.logger, "get channel", err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *ChannelHandler) visibleChannel(c *gin.Context, channelID uuid.UUID) (*models.Channel, error) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, apperror.Internal("get channel", err)
	}
	if ch == nil {
		return nil, apperror.NotFound("channel not found")
	}

	if ch.IsPrivate {
		if _, err := h.access.Require(ctx, userID, models.ChannelTarget(ch.ID)); err != nil {
			return nil, err
		}
		return ch, nil
	}

	member, err := h.workspaces.GetMember(ctx, ch.WorkspaceID, userID)
	if err != nil {
		return nil, apperror.Internal("get workspace member", err)
	}
	if member == nil {
		return nil, apperror.Forbidden("not a member of this workspace")
	}
	return ch, nil
}
