package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a person who can connect. The realtime layer only reads users;
// creating them belongs to the account service.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Workspace is the organization boundary. Channels and conversations
// belong to exactly one workspace, and presence is tracked per workspace.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace roles. RoleGuest is the restricted role: a guest may only post
// in channels they were explicitly granted, and a locked guest may not
// post at all.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleGuest  = "guest"
)

type WorkspaceMember struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	Locked      bool      `json:"locked"`
}

func (m *WorkspaceMember) IsGuest() bool {
	return m.Role == RoleGuest
}

// Channel is a named room inside a workspace (#general, #incident-123).
// ArchivedAt non-nil means the channel is read-only.
type Channel struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Name        string     `json:"name"`
	IsPrivate   bool       `json:"is_private"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NotificationMode is a member's per-channel notification preference.
type NotificationMode string

const (
	NotifyAll      NotificationMode = "all"
	NotifyMentions NotificationMode = "mentions"
	NotifyMuted    NotificationMode = "muted"
)

type ChannelMember struct {
	ChannelID        uuid.UUID        `json:"channel_id"`
	UserID           uuid.UUID        `json:"user_id"`
	Role             string           `json:"role"`
	NotificationMode NotificationMode `json:"notification_mode"`
}

// Conversation is a direct or group DM. Participants are fixed by the
// conversation_participants table; there is no notion of joining one.
type Conversation struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	IsGroup     bool      `json:"is_group"`
	CreatedAt   time.Time `json:"created_at"`
}

// TargetType says which scope a message lives in.
type TargetType string

const (
	TargetChannel      TargetType = "channel"
	TargetConversation TargetType = "conversation"
)

func (t TargetType) Valid() bool {
	return t == TargetChannel || t == TargetConversation
}

// Target names a channel or a conversation. Every sequence, read state and
// unread counter is scoped to one Target.
type Target struct {
	Type TargetType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

func ChannelTarget(id uuid.UUID) Target      { return Target{Type: TargetChannel, ID: id} }
func ConversationTarget(id uuid.UUID) Target { return Target{Type: TargetConversation, ID: id} }

// Message is a chat message or, when ParentID is set, a thread reply.
//
// Exactly one of ChannelID and ConversationID is set. Sequence is unique
// and strictly increasing within that scope; replies share the sequence
// space of their parent's scope.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	Content        string     `json:"content"`
	AuthorID       uuid.UUID  `json:"author_id"`
	ChannelID      *uuid.UUID `json:"channel_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	Sequence       int64      `json:"sequence"`
	ReplyCount     int        `json:"reply_count"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Target resolves which scope the message belongs to.
func (m *Message) Target() Target {
	if m.ChannelID != nil {
		return ChannelTarget(*m.ChannelID)
	}
	if m.ConversationID != nil {
		return ConversationTarget(*m.ConversationID)
	}
	return Target{}
}

// Attachment is uploaded before the message exists. MessageID stays nil
// until a send by the uploader claims it.
type Attachment struct {
	ID         uuid.UUID  `json:"id"`
	MessageID  *uuid.UUID `json:"message_id,omitempty"`
	UploaderID uuid.UUID  `json:"uploader_id"`
	FileName   string     `json:"file_name"`
	MimeType   string     `json:"mime_type"`
	SizeBytes  int64      `json:"size_bytes"`
	URL        string     `json:"url"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ReadState is a user's read watermark in one channel or conversation.
//
// MarkedUnreadAtSequence rewinds the watermark without losing
// LastReadSequence: the user "marked unread" a message they had already
// read past.
type ReadState struct {
	UserID                 uuid.UUID `json:"user_id"`
	Target                 Target    `json:"target"`
	LastReadSequence       int64     `json:"last_read_sequence"`
	MarkedUnreadAtSequence *int64    `json:"marked_unread_at_sequence,omitempty"`
}

// EffectiveReadSequence reconciles the watermark with any mark-unread
// anchor: min(lastRead, markedUnreadAt-1).
func (r *ReadState) EffectiveReadSequence() int64 {
	if r == nil {
		return 0
	}
	if r.MarkedUnreadAtSequence != nil {
		anchor := *r.MarkedUnreadAtSequence - 1
		if anchor < r.LastReadSequence {
			return anchor
		}
	}
	return r.LastReadSequence
}

// Reaction rows are pure set membership on (message, user, emoji).
type Reaction struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadParticipant is upserted on every reply. ThreadID is the parent
// message id.
type ThreadParticipant struct {
	ThreadID   uuid.UUID `json:"thread_id"`
	UserID     uuid.UUID `json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
}

type NotificationType string

const (
	NotificationMention     NotificationType = "mention"
	NotificationChannel     NotificationType = "channel"
	NotificationHere        NotificationType = "here"
	NotificationThreadReply NotificationType = "thread_reply"
)

type Notification struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Type           NotificationType `json:"type"`
	MessageID      uuid.UUID        `json:"message_id"`
	ChannelID      *uuid.UUID       `json:"channel_id,omitempty"`
	ConversationID *uuid.UUID       `json:"conversation_id,omitempty"`
	ActorID        uuid.UUID        `json:"actor_id"`
	Content        string           `json:"content"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PresenceStatus is a user's live status in a workspace. Offline is never
// stored: it is the absence of a presence entry.
type PresenceStatus string

const (
	PresenceActive  PresenceStatus = "active"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)
