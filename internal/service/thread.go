package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"go.uber.org/zap"
)

type ReplyCountUpdate struct {
	MessageID  uuid.UUID `json:"messageId"`
	ReplyCount int       `json:"replyCount"`
}

// ThreadService handles single-level threads. A reply lives in its
// parent's channel or conversation and takes a sequence number there.
type ThreadService struct {
	m      *MessageService
	logger *zap.Logger
}

func newThreadService(messages *MessageService) *ThreadService {
	return &ThreadService{m: messages, logger: messages.logger.Named("threads")}
}

// parent loads a thread root the user can see. Replies cannot be thread
// roots.
func (t *ThreadService) parent(ctx context.Context, parentID uuid.UUID) (*models.Message, *Scope, error) {
	msg, err := t.m.store.Messages.GetByID(ctx, parentID)
	if err != nil {
		return nil, nil, apperror.Internal("load parent message", err)
	}
	if msg == nil || msg.DeletedAt != nil {
		return nil, nil, apperror.NotFound("thread not found")
	}
	if msg.ParentID != nil {
		return nil, nil, apperror.Validation(apperror.CodeNestedThread, "cannot reply to a reply")
	}
	scope, err := t.m.access.Resolve(ctx, msg.Target())
	if err != nil {
		return nil, nil, err
	}
	return msg, scope, nil
}

func (t *ThreadService) Reply(ctx context.Context, p auth.Principal, parentID uuid.UUID, content string) (*MessageView, error) {
	if err := t.m.posting.consume(p.UserID); err != nil {
		return nil, err
	}
	if err := checkContent(content, 0, t.m.posting.maxLength); err != nil {
		return nil, err
	}
	parent, scope, err := t.parent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := t.m.posting.check(ctx, p.UserID, scope); err != nil {
		return nil, err
	}

	pid := parent.ID
	msg := &models.Message{
		ID:       uuid.New(),
		Content:  content,
		AuthorID: p.UserID,
		ParentID: &pid,
	}
	setTarget(msg, scope.Target)

	created, err := t.m.sequencer.insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	count, err := t.m.store.Messages.IncrementReplyCount(ctx, parent.ID)
	if err != nil {
		t.logger.Warn("increment reply count failed", zap.String("parent_id", parent.ID.String()), zap.Error(err))
		count = parent.ReplyCount + 1
	}
	if err := t.m.store.Threads.UpsertParticipant(ctx, parent.ID, p.UserID); err != nil {
		t.logger.Warn("upsert thread participant failed", zap.String("parent_id", parent.ID.String()), zap.Error(err))
	}

	view := &MessageView{
		Message:     *created,
		Author:      AuthorView{ID: p.UserID, DisplayName: p.DisplayName},
		Attachments: []models.Attachment{},
	}
	t.m.bc.Emit(ctx, realtime.ThreadRoom(parent.ID), realtime.EventThreadNewReply, view)
	t.m.bc.Emit(ctx, realtime.TargetRoom(scope.Target), realtime.EventMessageReplyCount, ReplyCountUpdate{
		MessageID:  parent.ID,
		ReplyCount: count,
	})

	t.m.previews.Enqueue(ctx, created)
	if err := t.m.notify.OnThreadReply(ctx, p, scope, created, parent); err != nil {
		t.logger.Warn("thread notification fanout failed", zap.String("message_id", created.ID.String()), zap.Error(err))
	}
	t.m.bumpUnread(ctx, scope, created)
	return view, nil
}

// GetReplies returns the thread's replies oldest first, deleted ones
// included so clients can render a placeholder.
func (t *ThreadService) GetReplies(ctx context.Context, p auth.Principal, threadID uuid.UUID) ([]MessageView, error) {
	if _, err := t.Authorize(ctx, p.UserID, threadID); err != nil {
		return nil, err
	}
	rows, err := t.m.store.Messages.ListReplies(ctx, threadID)
	if err != nil {
		return nil, apperror.Internal("list replies", err)
	}
	return t.m.views(ctx, rows)
}

// Authorize checks that threadID is a thread root in a scope the user
// belongs to.
func (t *ThreadService) Authorize(ctx context.Context, userID, threadID uuid.UUID) (*Scope, error) {
	_, scope, err := t.parent(ctx, threadID)
	if err != nil {
		return nil, err
	}
	ok, err := t.m.access.IsMember(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Forbidden("not a member of this " + string(scope.Target.Type))
	}
	return scope, nil
}
