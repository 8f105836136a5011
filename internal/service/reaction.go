package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"go.uber.org/zap"
)

const maxEmojiLength = 64

const maxToggleAttempts = 3

const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

type ReactionUpdate struct {
	MessageID uuid.UUID `json:"messageId"`
	Emoji     string    `json:"emoji"`
	UserID    uuid.UUID `json:"userId"`
	UserName  string    `json:"userName"`
	Action    string    `json:"action"`
}

type ReactionUser struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ReactionGroup is every reaction with one emoji, in the order users
// reacted.
type ReactionGroup struct {
	Emoji string         `json:"emoji"`
	Count int            `json:"count"`
	Users []ReactionUser `json:"users"`
}

type ReactionService struct {
	store  *repository.Store
	access *Access
	bc     Broadcaster
	logger *zap.Logger
}

func NewReactionService(store *repository.Store, access *Access, bc Broadcaster, logger *zap.Logger) *ReactionService {
	return &ReactionService{store: store, access: access, bc: bc, logger: logger.Named("reactions")}
}

// Toggle flips (message, user, emoji) membership. Remove runs first: if a
// row was deleted the toggle is a removal, otherwise it inserts. An insert
// that hits an existing row means a concurrent toggle added it in between,
// so the loop goes back to Remove. Two racing toggles from the same user
// end in opposite states.
func (s *ReactionService) Toggle(ctx context.Context, p auth.Principal, messageID uuid.UUID, emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return "", apperror.Validation(apperror.CodeInvalidPayload, "invalid emoji")
	}
	msg, _, err := s.access.Message(ctx, p.UserID, messageID)
	if err != nil {
		return "", err
	}

	action, err := s.flip(ctx, messageID, p.UserID, emoji)
	if err != nil {
		return "", err
	}

	update := ReactionUpdate{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    p.UserID,
		UserName:  p.DisplayName,
		Action:    action,
	}
	s.bc.Emit(ctx, realtime.TargetRoom(msg.Target()), realtime.EventReactionUpdate, update)
	if msg.ParentID != nil {
		s.bc.Emit(ctx, realtime.ThreadRoom(*msg.ParentID), realtime.EventReactionUpdate, update)
	}
	return action, nil
}

func (s *ReactionService) flip(ctx context.Context, messageID, userID uuid.UUID, emoji string) (string, error) {
	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		removed, err := s.store.Reactions.Remove(ctx, messageID, userID, emoji)
		if err != nil {
			return "", apperror.Internal("remove reaction", err)
		}
		if removed {
			return ReactionRemoved, nil
		}
		inserted, err := s.store.Reactions.Add(ctx, messageID, userID, emoji)
		if err != nil {
			return "", apperror.Internal("add reaction", err)
		}
		if inserted {
			return ReactionAdded, nil
		}
		s.logger.Debug("reaction toggle raced, retrying",
			zap.String("message_id", messageID.String()), zap.Int("attempt", attempt+1))
	}
	return "", apperror.Internal("toggle reaction", fmt.Errorf("no stable state after %d attempts", maxToggleAttempts))
}

// Get groups a message's reactions by emoji, ordered by each emoji's
// first use.
func (s *ReactionService) Get(ctx context.Context, p auth.Principal, messageID uuid.UUID) ([]ReactionGroup, error) {
	if _, _, err := s.access.Message(ctx, p.UserID, messageID); err != nil {
		return nil, err
	}
	rows, err := s.store.Reactions.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, apperror.Internal("list reactions", err)
	}

	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji, Users: []ReactionUser{}})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, ReactionUser{ID: r.UserID, Name: r.UserName})
	}
	return groups, nil
}
