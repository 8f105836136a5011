package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"go.uber.org/zap"
)

type TypingUpdate struct {
	UserID     uuid.UUID         `json:"userId"`
	UserName   string            `json:"userName"`
	TargetID   uuid.UUID         `json:"targetId"`
	TargetType models.TargetType `json:"targetType"`
	IsTyping   bool              `json:"isTyping"`
}

// TypingTracker relays typing indicators. State lives on the connection,
// so nothing here outlives a disconnect.
type TypingTracker struct {
	access *Access
	bc     Broadcaster
	logger *zap.Logger
}

func NewTypingTracker(access *Access, bc Broadcaster, logger *zap.Logger) *TypingTracker {
	return &TypingTracker{access: access, bc: bc, logger: logger.Named("typing")}
}

// Set handles an explicit typing:start or typing:stop. Every explicit
// event is relayed, even when the state did not change.
func (t *TypingTracker) Set(ctx context.Context, c *realtime.Client, target models.Target, typing bool) error {
	if _, err := t.access.Require(ctx, c.UserID(), target); err != nil {
		return err
	}
	c.SetTyping(target, typing)
	t.broadcast(ctx, c, target, typing)
	return nil
}

// Clear stops typing after a send. Others only hear about it if the
// connection was marked as typing.
func (t *TypingTracker) Clear(ctx context.Context, c *realtime.Client, target models.Target) {
	if c.SetTyping(target, false) {
		t.broadcast(ctx, c, target, false)
	}
}

// Disconnect broadcasts a stop for every target the connection was still
// typing in.
func (t *TypingTracker) Disconnect(ctx context.Context, c *realtime.Client) {
	for _, target := range c.DrainTyping() {
		t.broadcast(ctx, c, target, false)
	}
}

func (t *TypingTracker) broadcast(ctx context.Context, c *realtime.Client, target models.Target, typing bool) {
	p := c.Principal()
	t.bc.EmitExcept(ctx, realtime.TargetRoom(target), realtime.EventTypingUpdate, TypingUpdate{
		UserID:     p.UserID,
		UserName:   p.DisplayName,
		TargetID:   target.ID,
		TargetType: target.Type,
		IsTyping:   typing,
	}, p.UserID)
}
