// Package service implements every realtime operation: routing connections
// into rooms, sending and sequencing messages, reactions, threads,
// presence, unread counters and mention notifications.
//
// Services never write to sockets directly. They broadcast through a
// Broadcaster (the realtime.Hub in production) and return errors as
// *apperror.Error values that the gateway turns into error frames.
package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/queue"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/retry"
	"go.uber.org/zap"
)

// Broadcaster delivers an event to every connection in a room, on every
// instance.
type Broadcaster interface {
	Emit(ctx context.Context, room, event string, data any)
	EmitExcept(ctx context.Context, room, event string, data any, exceptUser uuid.UUID)
}

type Options struct {
	PresenceTTL             time.Duration
	UnreadCacheTTL          time.Duration
	WorkspaceUnreadCacheTTL time.Duration
	MaxMessageLength        int
	PushTopic               string
	LinkPreviewTopic        string
	Retry                   retry.Policy
}

func DefaultOptions() Options {
	return Options{
		PresenceTTL:             5 * time.Minute,
		UnreadCacheTTL:          60 * time.Second,
		WorkspaceUnreadCacheTTL: 30 * time.Second,
		MaxMessageLength:        4000,
		PushTopic:               "chorus.push",
		LinkPreviewTopic:        "chorus.link-preview",
		Retry:                   retry.DefaultPolicy,
	}
}

type Deps struct {
	Store          *repository.Store
	Hub            *realtime.Hub
	Broadcaster    Broadcaster
	UnreadCache    cache.UnreadCache
	Presence       cache.PresenceStore
	Deduper        cache.Deduper
	Producer       queue.Producer
	MessageLimiter *ratelimit.Limiter
	Options        Options
	Logger         *zap.Logger
}

// Services is every manager, constructed once per process.
type Services struct {
	Access          *Access
	Rooms           *RoomRouter
	Messages        *MessageService
	Reactions       *ReactionService
	Threads         *ThreadService
	Presence        *PresenceManager
	Unread          *UnreadManager
	WorkspaceUnread *WorkspaceUnreadManager
	Notifications   *NotificationFanout
	Typing          *TypingTracker
	Previews        *LinkPreviewer
	Jobs            *Background
}

func New(d Deps) *Services {
	logger := d.Logger
	if d.Broadcaster == nil {
		d.Broadcaster = d.Hub
	}
	if d.UnreadCache == nil {
		d.UnreadCache = cache.NoopUnreadCache{}
	}

	jobs := NewBackground(5*time.Second, logger)
	access := NewAccess(d.Store)
	presence := NewPresenceManager(d.Presence, d.Store.Workspaces, d.Broadcaster, d.Options.PresenceTTL, logger)
	unread, wsUnread := NewUnreadManagers(d.Store, access, d.UnreadCache, d.Broadcaster, d.Options, logger)
	pusher := NewPusher(d.Producer, d.Options.PushTopic, jobs, logger)
	notify := NewNotificationFanout(d.Store, presence, d.Broadcaster, pusher, logger)
	previews := NewLinkPreviewer(d.Deduper, d.Producer, d.Options.LinkPreviewTopic, jobs, logger)
	sequencer := &sequencer{messages: d.Store.Messages, policy: d.Options.Retry}
	posting := &postingPolicy{store: d.Store, access: access, limiter: d.MessageLimiter, maxLength: d.Options.MaxMessageLength}

	messages := &MessageService{
		store:     d.Store,
		access:    access,
		bc:        d.Broadcaster,
		posting:   posting,
		sequencer: sequencer,
		unread:    unread,
		wsUnread:  wsUnread,
		notify:    notify,
		previews:  previews,
		pusher:    pusher,
		logger:    logger.Named("messages"),
	}

	threads := newThreadService(messages)

	return &Services{
		Access:          access,
		Rooms:           NewRoomRouter(d.Hub, d.Store, access, threads, presence, logger),
		Messages:        messages,
		Reactions:       NewReactionService(d.Store, access, d.Broadcaster, logger),
		Threads:         threads,
		Presence:        presence,
		Unread:          unread,
		WorkspaceUnread: wsUnread,
		Notifications:   notify,
		Typing:          NewTypingTracker(access, d.Broadcaster, logger),
		Previews:        previews,
		Jobs:            jobs,
	}
}

// checkContent enforces the non-empty and length rules shared by messages
// and replies. Length is counted in runes.
func checkContent(content string, attachments, maxLength int) error {
	if strings.TrimSpace(content) == "" && attachments == 0 {
		return apperror.Validation(apperror.CodeContentEmpty, "message content is empty")
	}
	if maxLength > 0 && utf8.RuneCountInString(content) > maxLength {
		return apperror.Validation(apperror.CodeContentTooLong, "message content is too long")
	}
	return nil
}
