package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/repository"
)

// Scope is a resolved channel or conversation.
type Scope struct {
	Target       models.Target
	WorkspaceID  uuid.UUID
	Channel      *models.Channel
	Conversation *models.Conversation
}

// Access answers "may this user see this target" against current
// membership. Nothing is cached, so a removed member loses access on the
// next event.
type Access struct {
	store *repository.Store
}

func NewAccess(store *repository.Store) *Access {
	return &Access{store: store}
}

func (a *Access) Resolve(ctx context.Context, target models.Target) (*Scope, error) {
	switch target.Type {
	case models.TargetChannel:
		ch, err := a.store.Channels.GetByID(ctx, target.ID)
		if err != nil {
			return nil, apperror.Internal("load channel", err)
		}
		if ch == nil {
			return nil, apperror.NotFound("channel not found")
		}
		return &Scope{Target: target, WorkspaceID: ch.WorkspaceID, Channel: ch}, nil
	case models.TargetConversation:
		conv, err := a.store.Conversations.GetByID(ctx, target.ID)
		if err != nil {
			return nil, apperror.Internal("load conversation", err)
		}
		if conv == nil {
			return nil, apperror.NotFound("conversation not found")
		}
		return &Scope{Target: target, WorkspaceID: conv.WorkspaceID, Conversation: conv}, nil
	default:
		return nil, apperror.Validation(apperror.CodeInvalidPayload, "unknown target type")
	}
}

func (a *Access) IsMember(ctx context.Context, userID uuid.UUID, scope *Scope) (bool, error) {
	var (
		ok  bool
		err error
	)
	if scope.Target.Type == models.TargetConversation {
		ok, err = a.store.Conversations.IsParticipant(ctx, scope.Target.ID, userID)
	} else {
		ok, err = a.store.Memberships.IsMember(ctx, scope.Target.ID, userID)
	}
	if err != nil {
		return false, apperror.Internal("check membership", err)
	}
	return ok, nil
}

// Require resolves target and fails with Forbidden unless userID belongs
// to it.
func (a *Access) Require(ctx context.Context, userID uuid.UUID, target models.Target) (*Scope, error) {
	scope, err := a.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	ok, err := a.IsMember(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Forbidden("not a member of this " + string(target.Type))
	}
	return scope, nil
}

// Message loads a message the user can see. Deleted messages are reported
// as not found.
func (a *Access) Message(ctx context.Context, userID, messageID uuid.UUID) (*models.Message, *Scope, error) {
	msg, err := a.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, apperror.Internal("load message", err)
	}
	if msg == nil || msg.DeletedAt != nil {
		return nil, nil, apperror.NotFound("message not found")
	}
	scope, err := a.Require(ctx, userID, msg.Target())
	if err != nil {
		return nil, nil, err
	}
	return msg, scope, nil
}
