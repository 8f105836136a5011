package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ThreadStore struct {
	pool *pgxpool.Pool
}

func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

func (s *ThreadStore) UpsertParticipant(ctx context.Context, threadID, userID uuid.UUID) error {
	query := `
		INSERT INTO thread_participants (thread_id, user_id, last_read_at)
		VALUES ($1, $2, now())
		ON CONFLICT (thread_id, user_id) DO UPDATE SET last_read_at = now()`

	if _, err := s.pool.Exec(ctx, query, threadID, userID); err != nil {
		return fmt.Errorf("upsert thread participant: %w", err)
	}
	return nil
}

func (s *ThreadStore) ListParticipantIDs(ctx context.Context, threadID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM thread_participants
		WHERE thread_id = $1`

	return queryIDs(ctx, s.pool, "list thread participants", query, threadID)
}
