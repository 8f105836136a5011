package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/models"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// CreateBatch queues every insert in one pgx.Batch inside a transaction,
// so a mention to 40 people is one round-trip and all-or-nothing.
func (s *NotificationStore) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	query := `
		INSERT INTO notifications (id, user_id, type, message_id, channel_id, conversation_id,
			actor_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, n := range notifications {
		batch.Queue(query,
			n.ID,
			n.UserID,
			string(n.Type),
			n.MessageID,
			n.ChannelID,
			n.ConversationID,
			n.ActorID,
			n.Content,
			n.CreatedAt,
		)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}
