package gateway

import (
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

type targetPayload struct {
	TargetID   uuid.UUID         `json:"targetId" validate:"required"`
	TargetType models.TargetType `json:"targetType" validate:"required,oneof=channel conversation"`
}

func (p targetPayload) target() models.Target {
	return models.Target{Type: p.TargetType, ID: p.TargetID}
}

type sendPayload struct {
	targetPayload
	Content       string      `json:"content"`
	AttachmentIDs []uuid.UUID `json:"attachmentIds" validate:"max=10"`
}

type getOlderPayload struct {
	targetPayload
	Cursor int64 `json:"cursor" validate:"min=0"`
	Limit  int   `json:"limit" validate:"min=0"`
}

type messagePayload struct {
	MessageID uuid.UUID `json:"messageId" validate:"required"`
}

type reactionPayload struct {
	MessageID uuid.UUID `json:"messageId" validate:"required"`
	Emoji     string    `json:"emoji" validate:"required,max=64"`
}

type replyPayload struct {
	ParentID uuid.UUID `json:"parentId" validate:"required"`
	Content  string    `json:"content"`
}

type threadPayload struct {
	ThreadID uuid.UUID `json:"threadId" validate:"required"`
}

type presenceFetchPayload struct {
	WorkspaceID uuid.UUID   `json:"workspaceId" validate:"required"`
	UserIDs     []uuid.UUID `json:"userIds"`
}

type unreadFetchPayload struct {
	ChannelIDs      []uuid.UUID `json:"channelIds"`
	ConversationIDs []uuid.UUID `json:"conversationIds"`
}

// markReadPayload names exactly one of the two scopes.
type markReadPayload struct {
	ChannelID      *uuid.UUID `json:"channelId" validate:"required_without=ConversationID,excluded_with=ConversationID"`
	ConversationID *uuid.UUID `json:"conversationId"`
}

func (p markReadPayload) target() models.Target {
	if p.ChannelID != nil {
		return models.ChannelTarget(*p.ChannelID)
	}
	return models.ConversationTarget(*p.ConversationID)
}

type workspaceUnreadsPayload struct {
	WorkspaceIDs []uuid.UUID `json:"workspaceIds"`
}

type roomPayload struct {
	RoomID   uuid.UUID `json:"roomId" validate:"required"`
	RoomType string    `json:"roomType" validate:"required,oneof=channel conversation thread workspace"`
}

type workspacePayload struct {
	WorkspaceID uuid.UUID `json:"workspaceId" validate:"required"`
}
