package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/service"
)

func (g *Gateway) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		realtime.EventMessageSend:             g.sendMessage,
		realtime.EventMessageDelete:           g.deleteMessage,
		realtime.EventMessageGetOlder:         g.getOlder,
		realtime.EventReactionToggle:          g.toggleReaction,
		realtime.EventReactionGet:             g.getReactions,
		realtime.EventThreadReply:             g.reply,
		realtime.EventThreadJoin:              g.joinThread,
		realtime.EventThreadLeave:             g.leaveThread,
		realtime.EventThreadGetReplies:        g.getReplies,
		realtime.EventPresenceSetActive:       g.setPresence(models.PresenceActive),
		realtime.EventPresenceSetAway:         g.setPresence(models.PresenceAway),
		realtime.EventPresenceHeartbeat:       g.heartbeat,
		realtime.EventPresenceFetch:           g.fetchPresence,
		realtime.EventUnreadFetch:             g.fetchUnread,
		realtime.EventUnreadMarkRead:          g.markRead,
		realtime.EventUnreadMarkMessageUnread: g.markMessageUnread,
		realtime.EventWorkspaceFetchUnreads:   g.fetchWorkspaceUnreads,
		realtime.EventRoomJoin:                g.joinRoom,
		realtime.EventRoomLeave:               g.leaveRoom,
		realtime.EventWorkspaceJoin:           g.joinWorkspace,
		realtime.EventTypingStart:             g.typing(true),
		realtime.EventTypingStop:              g.typing(false),
	}
}

func (g *Gateway) sendMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[sendPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	msg, err := g.svc.Messages.Send(ctx, c.Principal(), service.SendInput{
		Target:        p.target(),
		Content:       p.Content,
		AttachmentIDs: p.AttachmentIDs,
	})
	if err != nil {
		return nil, err
	}
	g.svc.Typing.Clear(ctx, c, p.target())
	return H{"success": true, "messageId": msg.ID, "sequence": msg.Sequence}, nil
}

func (g *Gateway) deleteMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[messagePayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Messages.Delete(ctx, c.Principal(), p.MessageID)
}

func (g *Gateway) getOlder(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[getOlderPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	page, err := g.svc.Messages.GetOlder(ctx, c.Principal(), p.target(), p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return H{
		"success":    true,
		"messages":   page.Messages,
		"hasMore":    page.HasMore,
		"nextCursor": page.NextCursor,
	}, nil
}

func (g *Gateway) toggleReaction(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[reactionPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	action, err := g.svc.Reactions.Toggle(ctx, c.Principal(), p.MessageID, p.Emoji)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "action": action}, nil
}

func (g *Gateway) getReactions(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[messagePayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	groups, err := g.svc.Reactions.Get(ctx, c.Principal(), p.MessageID)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "reactions": groups}, nil
}

func (g *Gateway) reply(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[replyPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	msg, err := g.svc.Threads.Reply(ctx, c.Principal(), p.ParentID, p.Content)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "messageId": msg.ID}, nil
}

func (g *Gateway) joinThread(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[threadPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.Join(ctx, c, p.ThreadID, service.RoomTypeThread)
}

func (g *Gateway) leaveThread(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[threadPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.Leave(ctx, c, p.ThreadID, service.RoomTypeThread)
}

func (g *Gateway) getReplies(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[threadPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	replies, err := g.svc.Threads.GetReplies(ctx, c.Principal(), p.ThreadID)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "replies": replies}, nil
}

// currentWorkspace is the workspace the connection joined last. Presence
// events are meaningless before workspace:join.
func currentWorkspace(c *realtime.Client) (uuid.UUID, error) {
	ws := c.WorkspaceID()
	if ws == uuid.Nil {
		return uuid.Nil, apperror.Validation(apperror.CodeInvalidPayload, "join a workspace first")
	}
	return ws, nil
}

func (g *Gateway) setPresence(status models.PresenceStatus) handlerFunc {
	return func(ctx context.Context, c *realtime.Client, _ json.RawMessage) (any, error) {
		ws, err := currentWorkspace(c)
		if err != nil {
			return nil, err
		}
		return nil, g.svc.Presence.SetStatus(ctx, c.UserID(), ws, status)
	}
}

func (g *Gateway) heartbeat(ctx context.Context, c *realtime.Client, _ json.RawMessage) (any, error) {
	ws, err := currentWorkspace(c)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Presence.Heartbeat(ctx, c.UserID(), ws)
}

func (g *Gateway) fetchPresence(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[presenceFetchPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	statuses, err := g.svc.Presence.Fetch(ctx, c.UserID(), p.WorkspaceID, p.UserIDs)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "statuses": statuses}, nil
}

func (g *Gateway) fetchUnread(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[unreadFetchPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	counts, err := g.svc.Unread.Fetch(ctx, c.UserID(), p.ChannelIDs, p.ConversationIDs)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "channels": counts.Channels, "conversations": counts.Conversations}, nil
}

func (g *Gateway) markRead(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[markReadPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Unread.MarkRead(ctx, c.UserID(), p.target())
}

func (g *Gateway) markMessageUnread(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[messagePayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Unread.MarkMessageUnread(ctx, c.UserID(), p.MessageID)
}

func (g *Gateway) fetchWorkspaceUnreads(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[workspaceUnreadsPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	counts, err := g.svc.WorkspaceUnread.Fetch(ctx, c.UserID(), p.WorkspaceIDs)
	if err != nil {
		return nil, err
	}
	return H{"success": true, "counts": counts}, nil
}

func (g *Gateway) joinRoom(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[roomPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.Join(ctx, c, p.RoomID, p.RoomType)
}

func (g *Gateway) leaveRoom(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[roomPayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.Leave(ctx, c, p.RoomID, p.RoomType)
}

func (g *Gateway) joinWorkspace(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
	p, err := bind[workspacePayload](g.validate, data)
	if err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.JoinWorkspace(ctx, c, p.WorkspaceID)
}

func (g *Gateway) typing(typing bool) handlerFunc {
	return func(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error) {
		p, err := bind[targetPayload](g.validate, data)
		if err != nil {
			return nil, err
		}
		return nil, g.svc.Typing.Set(ctx, c, p.target(), typing)
	}
}
