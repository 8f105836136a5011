package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/models"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, workspace_id, is_group, created_at
		FROM conversations
		WHERE id = $1`

	var c models.Conversation
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.IsGroup,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID, workspaceID uuid.UUID) ([]models.Conversation, error) {
	query := `
		SELECT c.id, c.workspace_id, c.is_group, c.created_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		  AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR c.workspace_id = $2)
		ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.IsGroup, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (s *ConversationStore) ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = $1`

	return queryIDs(ctx, s.pool, "list participants", query, conversationID)
}
