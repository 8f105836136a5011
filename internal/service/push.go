package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/queue"
	"go.uber.org/zap"
)

const (
	PushKindMessage      = "message"
	PushKindNotification = "notification"
)

// PushJob is what the push worker consumes. Delivery itself (APNs, FCM,
// web push) happens in that worker.
type PushJob struct {
	Kind           string     `json:"kind"`
	UserID         uuid.UUID  `json:"userId"`
	MessageID      uuid.UUID  `json:"messageId"`
	ActorID        uuid.UUID  `json:"actorId"`
	ActorName      string     `json:"actorName"`
	Preview        string     `json:"preview"`
	ChannelID      *uuid.UUID `json:"channelId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Type           string     `json:"type,omitempty"`
}

// Pusher is the fire-and-forget push sink. Send never blocks the caller
// and never reports failure to it.
type Pusher struct {
	producer queue.Producer
	topic    string
	jobs     *Background
	logger   *zap.Logger
}

func NewPusher(producer queue.Producer, topic string, jobs *Background, logger *zap.Logger) *Pusher {
	return &Pusher{producer: producer, topic: topic, jobs: jobs, logger: logger.Named("push")}
}

func (p *Pusher) Send(job PushJob) {
	if p.producer == nil {
		return
	}
	p.jobs.Go("push", func(ctx context.Context) error {
		return p.producer.Publish(ctx, p.topic, job.UserID.String(), job)
	})
}
