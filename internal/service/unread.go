package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxUnreadBatch          = 100
	maxWorkspaceUnreadBatch = 50

	// fanoutConcurrency bounds the recounts run in parallel for one message.
	fanoutConcurrency = 16
)

type UnreadUpdate struct {
	ChannelID      *uuid.UUID `json:"channelId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Count          int64      `json:"count"`
}

type WorkspaceUnreadUpdate struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Count       int64     `json:"count"`
}

type UnreadCounts struct {
	Channels      map[uuid.UUID]int64 `json:"channels"`
	Conversations map[uuid.UUID]int64 `json:"conversations"`
}

// UnreadManager owns per-channel and per-conversation unread counts:
// max(0, maxSequence - effective read position), cached per user.
type UnreadManager struct {
	store     *repository.Store
	access    *Access
	cache     cache.UnreadCache
	bc        Broadcaster
	ttl       time.Duration
	workspace *WorkspaceUnreadManager
	logger    *zap.Logger
}

// WorkspaceUnreadManager sums a user's unread counts over every channel and
// conversation they belong to in one workspace.
type WorkspaceUnreadManager struct {
	store  *repository.Store
	cache  cache.UnreadCache
	bc     Broadcaster
	ttl    time.Duration
	unread *UnreadManager
	logger *zap.Logger
}

// NewUnreadManagers builds both managers together since each one calls into
// the other.
func NewUnreadManagers(store *repository.Store, access *Access, c cache.UnreadCache, bc Broadcaster, opts Options, logger *zap.Logger) (*UnreadManager, *WorkspaceUnreadManager) {
	u := &UnreadManager{
		store:  store,
		access: access,
		cache:  c,
		bc:     bc,
		ttl:    opts.UnreadCacheTTL,
		logger: logger.Named("unread"),
	}
	w := &WorkspaceUnreadManager{
		store:  store,
		cache:  c,
		bc:     bc,
		ttl:    opts.WorkspaceUnreadCacheTTL,
		unread: u,
		logger: logger.Named("workspace_unread"),
	}
	u.workspace = w
	return u, w
}

// Count returns the user's unread count for target without checking
// access. A cache error is treated as a miss.
func (m *UnreadManager) Count(ctx context.Context, userID uuid.UUID, target models.Target) (int64, error) {
	key := cache.UnreadKey(userID, target)
	// The lookup happens before the database reads so that an invalidation
	// landing in between makes the write below a no-op.
	lookup, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Debug("unread cache read failed", zap.String("key", key), zap.Error(err))
	} else if lookup.Hit {
		return lookup.Count, nil
	}
	cacheable := err == nil

	max, err := m.store.Messages.MaxSequence(ctx, target)
	if err != nil {
		return 0, apperror.Internal("load max sequence", err)
	}
	state, err := m.store.ReadStates.Get(ctx, userID, target)
	if err != nil {
		return 0, apperror.Internal("load read state", err)
	}

	count := max - state.EffectiveReadSequence()
	if count < 0 {
		count = 0
	}
	if cacheable {
		if _, err := m.cache.SetIfUnchanged(ctx, key, lookup.Generation, count, m.ttl); err != nil {
			m.logger.Debug("unread cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return count, nil
}

// Fetch returns counts for the ids the user may see. Ids that don't exist
// or belong to someone else are left out of the result without an error.
func (m *UnreadManager) Fetch(ctx context.Context, userID uuid.UUID, channelIDs, conversationIDs []uuid.UUID) (*UnreadCounts, error) {
	if len(channelIDs)+len(conversationIDs) > maxUnreadBatch {
		return nil, apperror.Validation(apperror.CodeBatchTooLarge, "at most 100 ids per request")
	}

	out := &UnreadCounts{
		Channels:      make(map[uuid.UUID]int64, len(channelIDs)),
		Conversations: make(map[uuid.UUID]int64, len(conversationIDs)),
	}
	collect := func(target models.Target, into map[uuid.UUID]int64) error {
		if _, err := m.access.Require(ctx, userID, target); err != nil {
			if apperror.Is(err, apperror.KindAuthorization) || apperror.Is(err, apperror.KindNotFound) {
				return nil
			}
			return err
		}
		n, err := m.Count(ctx, userID, target)
		if err != nil {
			return err
		}
		into[target.ID] = n
		return nil
	}

	for _, id := range channelIDs {
		if err := collect(models.ChannelTarget(id), out.Channels); err != nil {
			return nil, err
		}
	}
	for _, id := range conversationIDs {
		if err := collect(models.ConversationTarget(id), out.Conversations); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkRead moves the user's watermark to the latest message. The cache
// entry is dropped and recomputed so a following fetch sees 0.
func (m *UnreadManager) MarkRead(ctx context.Context, userID uuid.UUID, target models.Target) error {
	scope, err := m.access.Require(ctx, userID, target)
	if err != nil {
		return err
	}
	max, err := m.store.Messages.MaxSequence(ctx, target)
	if err != nil {
		return apperror.Internal("load max sequence", err)
	}
	if err := m.store.ReadStates.MarkRead(ctx, userID, target, max); err != nil {
		return apperror.Internal("mark read", err)
	}
	return m.readStateChanged(ctx, userID, scope)
}

// MarkMessageUnread rewinds the effective read position to just before
// the message. A message deleted after the fact still works as an anchor.
func (m *UnreadManager) MarkMessageUnread(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := m.store.Messages.GetByID(ctx, messageID)
	if err != nil {
		return apperror.Internal("load message", err)
	}
	if msg == nil {
		return apperror.NotFound("message not found")
	}
	scope, err := m.access.Require(ctx, userID, msg.Target())
	if err != nil {
		return err
	}
	if err := m.store.ReadStates.MarkUnread(ctx, userID, scope.Target, msg.Sequence); err != nil {
		return apperror.Internal("mark unread", err)
	}
	return m.readStateChanged(ctx, userID, scope)
}

func (m *UnreadManager) readStateChanged(ctx context.Context, userID uuid.UUID, scope *Scope) error {
	m.invalidate(ctx, []uuid.UUID{userID}, scope.Target)
	if err := m.publish(ctx, userID, scope.Target); err != nil {
		return err
	}
	m.workspace.Invalidate(ctx, scope.WorkspaceID, []uuid.UUID{userID})
	return m.workspace.publish(ctx, userID, scope.WorkspaceID)
}

// OnNewMessage invalidates and recounts for every member of the scope but
// the author, emitting unread:update to each. It returns the users it
// touched.
func (m *UnreadManager) OnNewMessage(ctx context.Context, scope *Scope, authorID uuid.UUID) ([]uuid.UUID, error) {
	members, err := m.memberIDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	recipients := make([]uuid.UUID, 0, len(members))
	for _, id := range members {
		if id != authorID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return recipients, nil
	}

	m.invalidate(ctx, recipients, scope.Target)

	// A failed recount must not cancel the others, so no WithContext.
	var g errgroup.Group
	g.SetLimit(fanoutConcurrency)
	for _, uid := range recipients {
		uid := uid
		g.Go(func() error {
			return m.publish(ctx, uid, scope.Target)
		})
	}
	return recipients, g.Wait()
}

func (m *UnreadManager) memberIDs(ctx context.Context, scope *Scope) ([]uuid.UUID, error) {
	if scope.Conversation != nil {
		ids, err := m.store.Conversations.ListParticipantIDs(ctx, scope.Conversation.ID)
		if err != nil {
			return nil, apperror.Internal("load participants", err)
		}
		return ids, nil
	}
	members, err := m.store.Memberships.ListMembers(ctx, scope.Target.ID)
	if err != nil {
		return nil, apperror.Internal("load channel members", err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, mem := range members {
		ids = append(ids, mem.UserID)
	}
	return ids, nil
}

func (m *UnreadManager) invalidate(ctx context.Context, userIDs []uuid.UUID, target models.Target) {
	keys := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		keys = append(keys, cache.UnreadKey(uid, target))
	}
	if err := m.cache.Delete(ctx, keys...); err != nil {
		m.logger.Warn("unread cache invalidation failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

func (m *UnreadManager) publish(ctx context.Context, userID uuid.UUID, target models.Target) error {
	n, err := m.Count(ctx, userID, target)
	if err != nil {
		return err
	}
	update := UnreadUpdate{Count: n}
	id := target.ID
	if target.Type == models.TargetConversation {
		update.ConversationID = &id
	} else {
		update.ChannelID = &id
	}
	m.bc.Emit(ctx, realtime.UserRoom(userID), realtime.EventUnreadUpdate, update)
	return nil
}

// Count sums the user's unread counts in the workspace, cached under its
// own key.
func (w *WorkspaceUnreadManager) Count(ctx context.Context, userID, workspaceID uuid.UUID) (int64, error) {
	key := cache.WorkspaceUnreadKey(userID, workspaceID)
	lookup, err := w.cache.Get(ctx, key)
	if err != nil {
		w.logger.Debug("workspace unread cache read failed", zap.String("key", key), zap.Error(err))
	} else if lookup.Hit {
		return lookup.Count, nil
	}
	cacheable := err == nil

	channels, err := w.store.Channels.ListForUser(ctx, userID, workspaceID)
	if err != nil {
		return 0, apperror.Internal("list channels", err)
	}
	convs, err := w.store.Conversations.ListForUser(ctx, userID, workspaceID)
	if err != nil {
		return 0, apperror.Internal("list conversations", err)
	}

	var total int64
	for _, ch := range channels {
		n, err := w.unread.Count(ctx, userID, models.ChannelTarget(ch.ID))
		if err != nil {
			return 0, err
		}
		total += n
	}
	for _, c := range convs {
		n, err := w.unread.Count(ctx, userID, models.ConversationTarget(c.ID))
		if err != nil {
			return 0, err
		}
		total += n
	}

	if cacheable {
		if _, err := w.cache.SetIfUnchanged(ctx, key, lookup.Generation, total, w.ttl); err != nil {
			w.logger.Debug("workspace unread cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return total, nil
}

// Fetch returns totals for the workspaces the user belongs to; the rest
// are omitted.
func (w *WorkspaceUnreadManager) Fetch(ctx context.Context, userID uuid.UUID, workspaceIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	if len(workspaceIDs) > maxWorkspaceUnreadBatch {
		return nil, apperror.Validation(apperror.CodeBatchTooLarge, "at most 50 workspace ids per request")
	}
	out := make(map[uuid.UUID]int64, len(workspaceIDs))
	for _, wsID := range workspaceIDs {
		member, err := w.store.Workspaces.GetMember(ctx, wsID, userID)
		if err != nil {
			return nil, apperror.Internal("load workspace member", err)
		}
		if member == nil {
			continue
		}
		n, err := w.Count(ctx, userID, wsID)
		if err != nil {
			return nil, err
		}
		out[wsID] = n
	}
	return out, nil
}

func (w *WorkspaceUnreadManager) Invalidate(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		keys = append(keys, cache.WorkspaceUnreadKey(uid, workspaceID))
	}
	if err := w.cache.Delete(ctx, keys...); err != nil {
		w.logger.Warn("workspace unread cache invalidation failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

// OnNewMessage drops the cached total of every workspace member but the
// author. Only the users whose scope counts changed get an update event;
// everyone else recomputes lazily.
func (w *WorkspaceUnreadManager) OnNewMessage(ctx context.Context, workspaceID, authorID uuid.UUID, affected []uuid.UUID) error {
	members, err := w.store.Workspaces.ListMemberIDs(ctx, workspaceID)
	if err != nil {
		return apperror.Internal("list workspace members", err)
	}
	others := make([]uuid.UUID, 0, len(members))
	for _, id := range members {
		if id != authorID {
			others = append(others, id)
		}
	}
	w.Invalidate(ctx, workspaceID, others)

	var g errgroup.Group
	g.SetLimit(fanoutConcurrency)
	for _, uid := range affected {
		if uid == authorID {
			continue
		}
		uid := uid
		g.Go(func() error {
			return w.publish(ctx, uid, workspaceID)
		})
	}
	return g.Wait()
}

func (w *WorkspaceUnreadManager) publish(ctx context.Context, userID, workspaceID uuid.UUID) error {
	n, err := w.Count(ctx, userID, workspaceID)
	if err != nil {
		return err
	}
	w.bc.Emit(ctx, realtime.UserRoom(userID), realtime.EventWorkspaceUnreadUpdate, WorkspaceUnreadUpdate{
		WorkspaceID: workspaceID,
		Count:       n,
	})
	return nil
}
