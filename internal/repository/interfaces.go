package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
)

// Every method takes ctx first: each one is a database round-trip and a
// suspension point, and a cancelled connection should cancel its query.
//
// Lookups of a single row return nil, nil when the row does not exist;
// callers turn that into a NotFound or Authorization failure themselves.

// UserRepository reads user identity for principals, authors and mentions.
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByIDs returns the users that exist, keyed by id. Missing ids are
	// simply absent from the map.
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.User, error)

	// FindByDisplayName matches case-insensitively among members of the
	// workspace. Returns nil, nil when no member has that name.
	FindByDisplayName(ctx context.Context, workspaceID uuid.UUID, name string) (*models.User, error)
}

// WorkspaceRepository answers organization membership questions.
type WorkspaceRepository interface {
	GetMember(ctx context.Context, workspaceID, userID uuid.UUID) (*models.WorkspaceMember, error)
	ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error)
}

// ChannelRepository defines the contract for channel data operations.
type ChannelRepository interface {
	Create(ctx context.Context, workspaceID uuid.UUID, name string, isPrivate bool) (*models.Channel, error)

	GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error)

	// ListForUser returns channels the user is a member of. workspaceID
	// uuid.Nil means every workspace. Returns an empty slice, never nil.
	ListForUser(ctx context.Context, userID, workspaceID uuid.UUID) ([]models.Channel, error)
}

// MembershipRepository handles who belongs to which channel.
type MembershipRepository interface {
	// AddMember is idempotent: joining twice is not an error.
	AddMember(ctx context.Context, channelID, userID uuid.UUID, role string) error

	RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error

	// ListMembers includes each member's notification mode.
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error)

	// IsMember is the hot-path check run before every channel event.
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)

	// HasGuestAccess reports an explicit per-channel grant for a guest.
	HasGuestAccess(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// ConversationRepository handles direct and group conversations.
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID, workspaceID uuid.UUID) ([]models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// MessageRepository handles message persistence and sequencing.
type MessageRepository interface {
	// CreateWithNextSequence inserts msg with sequence MAX(sequence)+1 in
	// its scope, computed inside the insert. It makes one attempt: when a
	// concurrent writer took the same number it returns
	// apperror.ErrSequenceConflict and the caller decides whether to retry.
	CreateWithNextSequence(ctx context.Context, msg *models.Message) (*models.Message, error)

	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// SoftDelete sets deleted_at only when authorID wrote the message and it
	// isn't deleted yet. Returns nil, nil when nothing matched.
	SoftDelete(ctx context.Context, messageID, authorID uuid.UUID) (*models.Message, error)

	// ListBefore returns top-level messages with sequence < before, highest
	// sequence first. before <= 0 means "from the latest".
	ListBefore(ctx context.Context, target models.Target, before int64, limit int) ([]models.Message, error)

	// ListReplies returns a thread's replies in sequence order.
	ListReplies(ctx context.Context, parentID uuid.UUID) ([]models.Message, error)

	// MaxSequence is 0 for an empty scope.
	MaxSequence(ctx context.Context, target models.Target) (int64, error)

	// IncrementReplyCount bumps the parent's counter atomically and returns
	// the new value.
	IncrementReplyCount(ctx context.Context, parentID uuid.UUID) (int, error)

	// ClaimAttachments assigns the uploader's still-unassigned attachments
	// among ids to messageID and returns the ones it claimed.
	ClaimAttachments(ctx context.Context, messageID, uploaderID uuid.UUID, ids []uuid.UUID) ([]models.Attachment, error)

	ListAttachments(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.Attachment, error)
}

// ReactionRepository stores (message, user, emoji) set membership.
type ReactionRepository interface {
	// Remove reports whether a row was deleted.
	Remove(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error)

	// Add inserts with ON CONFLICT DO NOTHING and reports whether a row was
	// inserted.
	Add(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error)

	// ListByMessage returns reactions oldest first with UserName resolved.
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error)
}

// ReadStateRepository keeps one row per (user, channel) and per
// (user, conversation).
type ReadStateRepository interface {
	Get(ctx context.Context, userID uuid.UUID, target models.Target) (*models.ReadState, error)

	// MarkRead moves the watermark forward to sequence and clears any
	// mark-unread anchor.
	MarkRead(ctx context.Context, userID uuid.UUID, target models.Target, sequence int64) error

	// MarkUnread sets the mark-unread anchor, leaving the watermark alone.
	MarkUnread(ctx context.Context, userID uuid.UUID, target models.Target, sequence int64) error
}

// ThreadRepository tracks who has replied in a thread.
type ThreadRepository interface {
	UpsertParticipant(ctx context.Context, threadID, userID uuid.UUID) error
	ListParticipantIDs(ctx context.Context, threadID uuid.UUID) ([]uuid.UUID, error)
}

// NotificationRepository persists notification rows.
type NotificationRepository interface {
	// CreateBatch inserts all rows in one round-trip, or none.
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

// Store bundles every repository so wiring code can pass one value around.
type Store struct {
	Users         UserRepository
	Workspaces    WorkspaceRepository
	Channels      ChannelRepository
	Memberships   MembershipRepository
	Conversations ConversationRepository
	Messages      MessageRepository
	Reactions     ReactionRepository
	ReadStates    ReadStateRepository
	Threads       ThreadRepository
	Notifications NotificationRepository
}
