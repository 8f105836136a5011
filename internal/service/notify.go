package service

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const previewLength = 140

var (
	mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([\w.\-]+)`)
	previewPolicy  = bluemonday.StrictPolicy()
)

// Mentions is what a message body asks to notify.
type Mentions struct {
	Users   []string
	Channel bool
	Here    bool
}

// ParseMentions finds @name tokens. @channel and @here are broadcast
// mentions; every other name is kept once, lowercased, in order.
func ParseMentions(content string) Mentions {
	var m Mentions
	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		name := strings.ToLower(strings.TrimRight(match[1], ".-"))
		switch name {
		case "":
			continue
		case "channel", "everyone":
			m.Channel = true
		case "here":
			m.Here = true
		default:
			if !seen[name] {
				seen[name] = true
				m.Users = append(m.Users, name)
			}
		}
	}
	return m
}

// preview strips markup and truncates to a short plain-text snippet.
func preview(content string) string {
	text := html.UnescapeString(previewPolicy.Sanitize(content))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	r := []rune(text)
	return string(r[:previewLength-1]) + "…"
}

// allowed applies a member's per-channel notification mode.
func allowed(mode models.NotificationMode, typ models.NotificationType) bool {
	switch mode {
	case models.NotifyMuted:
		return false
	case models.NotifyMentions:
		return typ == models.NotificationMention || typ == models.NotificationThreadReply
	default:
		return true
	}
}

type recipient struct {
	userID uuid.UUID
	typ    models.NotificationType
}

// NotificationFanout turns mentions and thread replies into notification
// rows, one per recipient per message.
type NotificationFanout struct {
	store    *repository.Store
	presence *PresenceManager
	bc       Broadcaster
	pusher   *Pusher
	now      func() time.Time
	logger   *zap.Logger
}

func NewNotificationFanout(store *repository.Store, presence *PresenceManager, bc Broadcaster, pusher *Pusher, logger *zap.Logger) *NotificationFanout {
	return &NotificationFanout{
		store:    store,
		presence: presence,
		bc:       bc,
		pusher:   pusher,
		now:      time.Now,
		logger:   logger.Named("notify"),
	}
}

// OnMessage handles a top-level message.
func (n *NotificationFanout) OnMessage(ctx context.Context, actor auth.Principal, scope *Scope, msg *models.Message) error {
	return n.fanout(ctx, actor, scope, msg, nil)
}

// OnThreadReply notifies thread participants and the parent's author as
// well as anyone mentioned in the reply.
func (n *NotificationFanout) OnThreadReply(ctx context.Context, actor auth.Principal, scope *Scope, reply, parent *models.Message) error {
	participants, err := n.store.Threads.ListParticipantIDs(ctx, parent.ID)
	if err != nil {
		return apperror.Internal("load thread participants", err)
	}
	followers := append([]uuid.UUID{parent.AuthorID}, participants...)
	return n.fanout(ctx, actor, scope, reply, followers)
}

func (n *NotificationFanout) fanout(ctx context.Context, actor auth.Principal, scope *Scope, msg *models.Message, followers []uuid.UUID) error {
	mentions := ParseMentions(msg.Content)
	if len(mentions.Users) == 0 && !mentions.Channel && !mentions.Here && len(followers) == 0 {
		return nil
	}

	var (
		recipients []recipient
		err        error
	)
	if scope.Channel != nil {
		recipients, err = n.channelRecipients(ctx, actor.UserID, scope, mentions, followers)
	} else {
		recipients, err = n.conversationRecipients(ctx, actor.UserID, scope, mentions, followers)
	}
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	snippet := preview(msg.Content)
	now := n.now()
	rows := make([]models.Notification, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, models.Notification{
			ID:             uuid.New(),
			UserID:         r.userID,
			Type:           r.typ,
			MessageID:      msg.ID,
			ChannelID:      msg.ChannelID,
			ConversationID: msg.ConversationID,
			ActorID:        actor.UserID,
			Content:        snippet,
			CreatedAt:      now,
		})
	}

	if err := n.store.Notifications.CreateBatch(ctx, rows); err != nil {
		return apperror.Internal("insert notifications", err)
	}

	for _, row := range rows {
		n.bc.Emit(ctx, realtime.UserRoom(row.UserID), realtime.EventNotificationNew, row)
		n.pusher.Send(PushJob{
			Kind:           PushKindNotification,
			UserID:         row.UserID,
			MessageID:      row.MessageID,
			ActorID:        actor.UserID,
			ActorName:      actor.DisplayName,
			Preview:        row.Content,
			ChannelID:      row.ChannelID,
			ConversationID: row.ConversationID,
			Type:           string(row.Type),
		})
	}
	n.logger.Debug("notifications created",
		zap.String("message_id", msg.ID.String()),
		zap.Int("count", len(rows)),
	)
	return nil
}

// channelRecipients resolves in priority order (direct mention, @channel,
// @here, thread follower) so each user keeps their strongest reason, then
// filters by notification mode. Only channel members are notified.
func (n *NotificationFanout) channelRecipients(ctx context.Context, actorID uuid.UUID, scope *Scope, m Mentions, followers []uuid.UUID) ([]recipient, error) {
	members, err := n.store.Memberships.ListMembers(ctx, scope.Channel.ID)
	if err != nil {
		return nil, apperror.Internal("load channel members", err)
	}
	modes := make(map[uuid.UUID]models.NotificationMode, len(members))
	for _, mem := range members {
		modes[mem.UserID] = mem.NotificationMode
	}

	queued := make(map[uuid.UUID]bool)
	var out []recipient
	add := func(uid uuid.UUID, typ models.NotificationType) {
		if uid == actorID || queued[uid] {
			return
		}
		mode, isMember := modes[uid]
		if !isMember || !allowed(mode, typ) {
			return
		}
		queued[uid] = true
		out = append(out, recipient{userID: uid, typ: typ})
	}

	for _, name := range m.Users {
		u, err := n.store.Users.FindByDisplayName(ctx, scope.WorkspaceID, name)
		if err != nil {
			return nil, apperror.Internal("resolve mention", err)
		}
		if u != nil {
			add(u.ID, models.NotificationMention)
		}
	}

	if m.Channel {
		for _, mem := range members {
			add(mem.UserID, models.NotificationChannel)
		}
	}

	if m.Here {
		ids := make([]uuid.UUID, 0, len(members))
		for _, mem := range members {
			if mem.UserID != actorID && !queued[mem.UserID] {
				ids = append(ids, mem.UserID)
			}
		}
		statuses, err := n.presence.Statuses(ctx, scope.WorkspaceID, ids)
		if err != nil {
			n.logger.Warn("presence lookup for @here failed", zap.Error(err))
		}
		for _, uid := range ids {
			if statuses[uid] == models.PresenceActive {
				add(uid, models.NotificationHere)
			}
		}
	}

	for _, uid := range followers {
		add(uid, models.NotificationThreadReply)
	}
	return out, nil
}

// conversationRecipients matches names against the participants, who are
// already known. @channel and @here have no meaning in a conversation.
func (n *NotificationFanout) conversationRecipients(ctx context.Context, actorID uuid.UUID, scope *Scope, m Mentions, followers []uuid.UUID) ([]recipient, error) {
	ids, err := n.store.Conversations.ListParticipantIDs(ctx, scope.Conversation.ID)
	if err != nil {
		return nil, apperror.Internal("load participants", err)
	}
	users, err := n.store.Users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperror.Internal("load participants", err)
	}
	participant := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		participant[id] = true
	}

	queued := make(map[uuid.UUID]bool)
	var out []recipient
	add := func(uid uuid.UUID, typ models.NotificationType) {
		if uid == actorID || queued[uid] || !participant[uid] {
			return
		}
		queued[uid] = true
		out = append(out, recipient{userID: uid, typ: typ})
	}

	for _, name := range m.Users {
		for _, id := range ids {
			if u := users[id]; u != nil && strings.EqualFold(u.DisplayName, name) {
				add(id, models.NotificationMention)
				break
			}
		}
	}
	for _, uid := range followers {
		add(uid, models.NotificationThreadReply)
	}
	return out, nil
}
