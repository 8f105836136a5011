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

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

func (s *ChannelStore) Create(ctx context.Context, workspaceID uuid.UUID, name string, isPrivate bool) (*models.Channel, error) {
	query := `
		INSERT INTO channels (id, workspace_id, name, is_private, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, now())
		RETURNING id, workspace_id, name, is_private, archived_at, created_at`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, workspaceID, name, isPrivate).Scan(
		&ch.ID,
		&ch.WorkspaceID,
		&ch.Name,
		&ch.IsPrivate,
		&ch.ArchivedAt,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	query := `
		SELECT id, workspace_id, name, is_private, archived_at, created_at
		FROM channels
		WHERE id = $1`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, channelID).Scan(
		&ch.ID,
		&ch.WorkspaceID,
		&ch.Name,
		&ch.IsPrivate,
		&ch.ArchivedAt,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) ListForUser(ctx context.Context, userID, workspaceID uuid.UUID) ([]models.Channel, error) {
	query := `
		SELECT c.id, c.workspace_id, c.name, c.is_private, c.archived_at, c.created_at
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = $1
		  AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR c.workspace_id = $2)
		ORDER BY c.name`

	rows, err := s.pool.Query(ctx, query, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(
			&ch.ID,
			&ch.WorkspaceID,
			&ch.Name,
			&ch.IsPrivate,
			&ch.ArchivedAt,
			&ch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}
