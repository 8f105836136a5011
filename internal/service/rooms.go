package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"go.uber.org/zap"
)

// Room types accepted by room:join and room:leave.
const (
	RoomTypeChannel      = "channel"
	RoomTypeConversation = "conversation"
	RoomTypeThread       = "thread"
	RoomTypeWorkspace    = "workspace"
)

// RoomRouter decides which rooms a connection is in. The connect-time
// snapshot comes from membership tables; every later join or leave is
// checked against current membership before the hub is touched.
type RoomRouter struct {
	hub      *realtime.Hub
	store    *repository.Store
	access   *Access
	threads  *ThreadService
	presence *PresenceManager
	logger   *zap.Logger
}

func NewRoomRouter(hub *realtime.Hub, store *repository.Store, access *Access, threads *ThreadService, presence *PresenceManager, logger *zap.Logger) *RoomRouter {
	return &RoomRouter{
		hub:      hub,
		store:    store,
		access:   access,
		threads:  threads,
		presence: presence,
		logger:   logger.Named("rooms"),
	}
}

// Connect registers the client and joins its personal room plus every
// channel and conversation it belongs to.
func (r *RoomRouter) Connect(ctx context.Context, c *realtime.Client) error {
	userID := c.UserID()
	channels, err := r.store.Channels.ListForUser(ctx, userID, uuid.Nil)
	if err != nil {
		return apperror.Internal("list channels", err)
	}
	convs, err := r.store.Conversations.ListForUser(ctx, userID, uuid.Nil)
	if err != nil {
		return apperror.Internal("list conversations", err)
	}

	r.hub.Register(c)
	r.hub.Join(c, realtime.UserRoom(userID))
	for _, ch := range channels {
		r.hub.Join(c, realtime.ChannelRoom(ch.ID))
	}
	for _, conv := range convs {
		r.hub.Join(c, realtime.ConversationRoom(conv.ID))
	}

	r.logger.Debug("client connected",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", userID.String()),
		zap.Int("channels", len(channels)),
		zap.Int("conversations", len(convs)),
	)
	return nil
}

func (r *RoomRouter) Join(ctx context.Context, c *realtime.Client, roomID uuid.UUID, roomType string) error {
	if roomType == RoomTypeWorkspace {
		return r.JoinWorkspace(ctx, c, roomID)
	}
	room, err := r.authorize(ctx, c.UserID(), roomID, roomType)
	if err != nil {
		return err
	}
	r.hub.Join(c, room)
	return nil
}

// Leave is validated the same way as Join. A connection that is no longer
// a member gets an error and keeps its rooms until it disconnects.
func (r *RoomRouter) Leave(ctx context.Context, c *realtime.Client, roomID uuid.UUID, roomType string) error {
	if roomType == RoomTypeWorkspace {
		if _, err := r.workspaceMember(ctx, c.UserID(), roomID); err != nil {
			return err
		}
		r.hub.Leave(c, realtime.WorkspaceRoom(roomID))
		if c.WorkspaceID() == roomID {
			c.SetWorkspaceID(uuid.Nil)
		}
		return nil
	}
	room, err := r.authorize(ctx, c.UserID(), roomID, roomType)
	if err != nil {
		return err
	}
	r.hub.Leave(c, room)
	return nil
}

// JoinWorkspace moves the connection into a workspace: one workspace room
// at a time, and the user becomes active there.
func (r *RoomRouter) JoinWorkspace(ctx context.Context, c *realtime.Client, workspaceID uuid.UUID) error {
	if _, err := r.workspaceMember(ctx, c.UserID(), workspaceID); err != nil {
		return err
	}
	if prev := c.WorkspaceID(); prev != uuid.Nil && prev != workspaceID {
		r.hub.Leave(c, realtime.WorkspaceRoom(prev))
	}
	c.SetWorkspaceID(workspaceID)
	r.hub.Join(c, realtime.WorkspaceRoom(workspaceID))
	return r.presence.SetStatus(ctx, c.UserID(), workspaceID, models.PresenceActive)
}

// Disconnect unregisters the client and marks the user offline in its
// workspace, even if the user has other connections open.
func (r *RoomRouter) Disconnect(ctx context.Context, c *realtime.Client) {
	r.hub.Unregister(c)
	wsID := c.WorkspaceID()
	if wsID == uuid.Nil {
		return
	}
	if err := r.presence.SetOffline(ctx, c.UserID(), wsID); err != nil {
		r.logger.Warn("set offline on disconnect failed",
			zap.String("user_id", c.UserID().String()),
			zap.Error(err),
		)
	}
}

func (r *RoomRouter) authorize(ctx context.Context, userID, roomID uuid.UUID, roomType string) (string, error) {
	switch roomType {
	case RoomTypeChannel:
		if _, err := r.access.Require(ctx, userID, models.ChannelTarget(roomID)); err != nil {
			return "", err
		}
		return realtime.ChannelRoom(roomID), nil
	case RoomTypeConversation:
		if _, err := r.access.Require(ctx, userID, models.ConversationTarget(roomID)); err != nil {
			return "", err
		}
		return realtime.ConversationRoom(roomID), nil
	case RoomTypeThread:
		if _, err := r.threads.Authorize(ctx, userID, roomID); err != nil {
			return "", err
		}
		return realtime.ThreadRoom(roomID), nil
	default:
		return "", apperror.Validation(apperror.CodeInvalidPayload, "unknown room type")
	}
}

func (r *RoomRouter) workspaceMember(ctx context.Context, userID, workspaceID uuid.UUID) (*models.WorkspaceMember, error) {
	member, err := r.store.Workspaces.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, apperror.Internal("load workspace member", err)
	}
	if member == nil {
		return nil, apperror.Forbidden("not a member of this workspace")
	}
	return member, nil
}
