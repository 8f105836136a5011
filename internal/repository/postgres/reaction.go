package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/models"
)

type ReactionStore struct {
	pool *pgxpool.Pool
}

func NewReactionStore(pool *pgxpool.Pool) *ReactionStore {
	return &ReactionStore{pool: pool}
}

func (s *ReactionStore) Remove(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	query := `
		DELETE FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3`

	tag, err := s.pool.Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ReactionStore) Add(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	// A concurrent toggle may have inserted the same row between our DELETE
	// and this INSERT. The primary key absorbs it.
	query := `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("add reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ReactionStore) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error) {
	query := `
		SELECT r.message_id, r.user_id, u.display_name, r.emoji, r.created_at
		FROM reactions r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id = $1
		ORDER BY r.created_at, r.emoji`

	rows, err := s.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	reactions := make([]models.Reaction, 0)
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.UserName, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return reactions, nil
}
