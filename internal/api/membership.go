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

// MembershipHandler handles self-service channel membership.
type MembershipHandler struct {
	channels    repository.ChannelRepository
	workspaces  repository.WorkspaceRepository
	memberships repository.MembershipRepository
	access      *service.Access
	wsUnread    *service.WorkspaceUnreadManager
	logger      *zap.Logger
}

func NewMembershipHandler(store *repository.Store, access *service.Access, wsUnread *service.WorkspaceUnreadManager, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{
		channels:    store.Channels,
		workspaces:  store.Workspaces,
		memberships: store.Memberships,
		access:      access,
		wsUnread:    wsUnread,
		logger:      logger,
	}
}

// Join handles POST /v1/channels/:id/join
//
// Only public, non-archived channels can be joined this way, and only by
// full members of the workspace. Guests get channel access by grant.
// Joining twice is a no-op.
//
// Open websocket connections pick the channel up on their next
// room:join; nothing is pushed from here. The cached workspace unread
// total is dropped since the channel now counts toward it.
func (h *MembershipHandler) Join(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		respondError(c, h.logger, "join channel", err)
		return
	}
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	if ch.IsPrivate {
		respondError(c, h.logger, "join channel", apperror.Forbidden("private channels are invite only"))
		return
	}
	if ch.ArchivedAt != nil {
		respondError(c, h.logger, "join channel",
			apperror.New(apperror.KindValidation, apperror.CodeChannelArchived, "channel is archived"))
		return
	}

	member, err := h.workspaces.GetMember(ctx, ch.WorkspaceID, userID)
	if err != nil {
		respondError(c, h.logger, "join channel", err)
		return
	}
	if member == nil || member.Role == models.RoleGuest {
		respondError(c, h.logger, "join channel", apperror.Forbidden("not allowed to join this channel"))
		return
	}

	if err := h.memberships.AddMember(ctx, channelID, userID, models.RoleMember); err != nil {
		h.logger.Error("failed to join channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join channel"})
		return
	}
	h.wsUnread.Invalidate(ctx, ch.WorkspaceID, []uuid.UUID{userID})

	c.Status(http.StatusNoContent)
}

// Leave handles POST /v1/channels/:id/leave
func (h *MembershipHandler) Leave(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		respondError(c, h.logger, "leave channel", err)
		return
	}

	if err := h.memberships.RemoveMember(ctx, channelID, userID); err != nil {
		h.logger.Error("failed to leave channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave channel"})
		return
	}
	if ch != nil {
		h.wsUnread.Invalidate(ctx, ch.WorkspaceID, []uuid.UUID{userID})
	}

	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /v1/channels/:id/members
func (h *MembershipHandler) ListMembers(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	ctx := c.Request.Context()

	if _, err := h.access.Require(ctx, middleware.GetUserID(c), models.ChannelTarget(channelID)); err != nil {
		respondError(c, h.logger, "list members", err)
		return
	}

	members, err := h.memberships.ListMembers(ctx, channelID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}

	c.JSON(http.StatusOK, members)
}
