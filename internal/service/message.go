package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/retry"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type AuthorView struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
}

// MessageView is a message as clients see it: the row plus its author and
// attachments.
type MessageView struct {
	models.Message
	Author      AuthorView          `json:"author"`
	Attachments []models.Attachment `json:"attachments"`
}

type SendInput struct {
	Target        models.Target
	Content       string
	AttachmentIDs []uuid.UUID
}

type Page struct {
	Messages   []MessageView `json:"messages"`
	HasMore    bool          `json:"hasMore"`
	NextCursor *int64        `json:"nextCursor,omitempty"`
}

// postingPolicy runs the send-side checks in their fixed order. The first
// failure wins.
type postingPolicy struct {
	store     *repository.Store
	access    *Access
	limiter   *ratelimit.Limiter
	maxLength int
}

func (p *postingPolicy) consume(userID uuid.UUID) error {
	if p.limiter == nil {
		return nil
	}
	if ok, retryAfter := p.limiter.Consume(userID.String()); !ok {
		return apperror.RateLimited(apperror.CodeMessageRateLimited, retryAfter)
	}
	return nil
}

// check is everything after the rate limit and content checks: guest
// policy, archived channel, then membership.
func (p *postingPolicy) check(ctx context.Context, userID uuid.UUID, scope *Scope) error {
	member, err := p.store.Workspaces.GetMember(ctx, scope.WorkspaceID, userID)
	if err != nil {
		return apperror.Internal("load workspace member", err)
	}
	if member != nil && member.IsGuest() {
		if member.Locked {
			return apperror.New(apperror.KindAuthorization, apperror.CodeGuestLocked, "guest account is locked")
		}
		if scope.Channel != nil {
			granted, err := p.store.Memberships.HasGuestAccess(ctx, scope.Channel.ID, userID)
			if err != nil {
				return apperror.Internal("check guest access", err)
			}
			if !granted {
				return apperror.New(apperror.KindAuthorization, apperror.CodeGuestNoChannelAccess, "guest has no access to this channel")
			}
		}
	}

	if scope.Channel != nil && scope.Channel.ArchivedAt != nil {
		return apperror.Validation(apperror.CodeChannelArchived, "channel is archived")
	}

	ok, err := p.access.IsMember(ctx, userID, scope)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Forbidden("not a member of this " + string(scope.Target.Type))
	}
	return nil
}

// sequencer inserts with the next sequence number, retrying when another
// writer won the race for the same number.
type sequencer struct {
	messages repository.MessageRepository
	policy   retry.Policy
}

func (s *sequencer) insert(ctx context.Context, msg *models.Message) (*models.Message, error) {
	created, err := retry.OnConflict(ctx, s.policy, apperror.ErrSequenceConflict, func(ctx context.Context) (*models.Message, error) {
		return s.messages.CreateWithNextSequence(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, apperror.ErrSequenceConflict) {
			return nil, &apperror.Error{
				Kind:    apperror.KindConflict,
				Code:    apperror.CodeSequenceConflict,
				Message: "could not send message, please retry",
				Err:     err,
			}
		}
		return nil, apperror.Internal("insert message", err)
	}
	return created, nil
}

type MessageService struct {
	store     *repository.Store
	access    *Access
	bc        Broadcaster
	posting   *postingPolicy
	sequencer *sequencer
	unread    *UnreadManager
	wsUnread  *WorkspaceUnreadManager
	notify    *NotificationFanout
	previews  *LinkPreviewer
	pusher    *Pusher
	logger    *zap.Logger
}

// Send validates, sequences, persists and broadcasts a message, then runs
// the side effects. Side effect failures are logged and never fail the
// send: the message is already persisted and broadcast by then.
func (s *MessageService) Send(ctx context.Context, p auth.Principal, in SendInput) (*MessageView, error) {
	if err := s.posting.consume(p.UserID); err != nil {
		return nil, err
	}
	if err := checkContent(in.Content, len(in.AttachmentIDs), s.posting.maxLength); err != nil {
		return nil, err
	}
	scope, err := s.access.Resolve(ctx, in.Target)
	if err != nil {
		return nil, err
	}
	if err := s.posting.check(ctx, p.UserID, scope); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:       uuid.New(),
		Content:  in.Content,
		AuthorID: p.UserID,
	}
	setTarget(msg, in.Target)

	created, err := s.sequencer.insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	atts := []models.Attachment{}
	if len(in.AttachmentIDs) > 0 {
		atts, err = s.store.Messages.ClaimAttachments(ctx, created.ID, p.UserID, in.AttachmentIDs)
		if err != nil {
			s.logger.Warn("claim attachments failed", zap.String("message_id", created.ID.String()), zap.Error(err))
			atts = []models.Attachment{}
		}
	}

	view := &MessageView{
		Message:     *created,
		Author:      AuthorView{ID: p.UserID, DisplayName: p.DisplayName},
		Attachments: atts,
	}
	s.bc.Emit(ctx, realtime.TargetRoom(in.Target), realtime.EventMessageNew, view)

	s.afterSend(ctx, p, scope, created)
	return view, nil
}

func (s *MessageService) afterSend(ctx context.Context, p auth.Principal, scope *Scope, msg *models.Message) {
	s.previews.Enqueue(ctx, msg)

	if err := s.notify.OnMessage(ctx, p, scope, msg); err != nil {
		s.logger.Warn("notification fanout failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}

	s.bumpUnread(ctx, scope, msg)

	if scope.Conversation != nil {
		participants, err := s.store.Conversations.ListParticipantIDs(ctx, scope.Conversation.ID)
		if err != nil {
			s.logger.Warn("load participants for push", zap.Error(err))
			return
		}
		for _, uid := range participants {
			if uid == p.UserID {
				continue
			}
			s.pusher.Send(PushJob{
				Kind:           PushKindMessage,
				UserID:         uid,
				MessageID:      msg.ID,
				ActorID:        p.UserID,
				ActorName:      p.DisplayName,
				Preview:        preview(msg.Content),
				ConversationID: msg.ConversationID,
			})
		}
	}
}

func (s *MessageService) bumpUnread(ctx context.Context, scope *Scope, msg *models.Message) {
	affected, err := s.unread.OnNewMessage(ctx, scope, msg.AuthorID)
	if err != nil {
		s.logger.Warn("unread fanout failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
	if err := s.wsUnread.OnNewMessage(ctx, scope.WorkspaceID, msg.AuthorID, affected); err != nil {
		s.logger.Warn("workspace unread fanout failed", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

type DeletedEvent struct {
	MessageID uuid.UUID `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Delete soft-deletes the requester's own message.
func (s *MessageService) Delete(ctx context.Context, p auth.Principal, messageID uuid.UUID) error {
	deleted, err := s.store.Messages.SoftDelete(ctx, messageID, p.UserID)
	if err != nil {
		return apperror.Internal("delete message", err)
	}
	if deleted == nil {
		existing, err := s.store.Messages.GetByID(ctx, messageID)
		if err != nil {
			return apperror.Internal("load message", err)
		}
		if existing != nil && existing.DeletedAt == nil && existing.AuthorID != p.UserID {
			return apperror.Forbidden("only the author can delete a message")
		}
		return apperror.NotFound("message not found")
	}

	ev := DeletedEvent{MessageID: deleted.ID, DeletedAt: *deleted.DeletedAt}
	s.bc.Emit(ctx, realtime.TargetRoom(deleted.Target()), realtime.EventMessageDeleted, ev)
	if deleted.ParentID != nil {
		s.bc.Emit(ctx, realtime.ThreadRoom(*deleted.ParentID), realtime.EventMessageDeleted, ev)
	}
	return nil
}

// GetOlder pages backwards from cursor (exclusive). cursor <= 0 starts at
// the newest message. The page is returned oldest first.
func (s *MessageService) GetOlder(ctx context.Context, p auth.Principal, target models.Target, cursor int64, limit int) (*Page, error) {
	if _, err := s.access.Require(ctx, p.UserID, target); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := s.store.Messages.ListBefore(ctx, target, cursor, limit+1)
	if err != nil {
		return nil, apperror.Internal("list messages", err)
	}
	page := &Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	page.Messages, err = s.views(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		next := rows[0].Sequence
		page.NextCursor = &next
	}
	return page, nil
}

// views resolves authors and attachments for a batch of rows in two
// queries.
func (s *MessageService) views(ctx context.Context, rows []models.Message) ([]MessageView, error) {
	out := make([]MessageView, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	authorIDs := make([]uuid.UUID, 0, len(rows))
	messageIDs := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool)
	for _, m := range rows {
		messageIDs = append(messageIDs, m.ID)
		if !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			authorIDs = append(authorIDs, m.AuthorID)
		}
	}

	authors, err := s.store.Users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, apperror.Internal("load authors", err)
	}
	atts, err := s.store.Messages.ListAttachments(ctx, messageIDs)
	if err != nil {
		return nil, apperror.Internal("load attachments", err)
	}

	for _, m := range rows {
		v := MessageView{Message: m, Author: AuthorView{ID: m.AuthorID}, Attachments: atts[m.ID]}
		if u := authors[m.AuthorID]; u != nil {
			v.Author.DisplayName = u.DisplayName
		}
		if v.Attachments == nil {
			v.Attachments = []models.Attachment{}
		}
		out = append(out, v)
	}
	return out, nil
}

func setTarget(msg *models.Message, t models.Target) {
	id := t.ID
	if t.Type == models.TargetConversation {
		msg.ConversationID = &id
	} else {
		msg.ChannelID = &id
	}
}
