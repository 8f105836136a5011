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

type ReadStateStore struct {
	pool *pgxpool.Pool
}

func NewReadStateStore(pool *pgxpool.Pool) *ReadStateStore {
	return &ReadStateStore{pool: pool}
}

func (s *ReadStateStore) Get(ctx context.Context, userID uuid.UUID, target models.Target) (*models.ReadState, error) {
	col, err := scopeColumn(target)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT last_read_sequence, marked_unread_at_sequence
		FROM read_states
		WHERE user_id = $1 AND %s = $2`, col)

	rs := models.ReadState{UserID: userID, Target: target}
	err = s.pool.QueryRow(ctx, query, userID, target.ID).Scan(
		&rs.LastReadSequence,
		&rs.MarkedUnreadAtSequence,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get read state: %w", err)
	}
	return &rs, nil
}

// The ON CONFLICT targets below must repeat the partial index predicate,
// otherwise postgres cannot infer uq_read_states_channel/_conversation.

func (s *ReadStateStore) MarkRead(ctx context.Context, userID uuid.UUID, target models.Target, sequence int64) error {
	col, err := scopeColumn(target)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO read_states (user_id, %[1]s, last_read_sequence, marked_unread_at_sequence, updated_at)
		VALUES ($1, $2, $3, NULL, now())
		ON CONFLICT (user_id, %[1]s) WHERE %[1]s IS NOT NULL
		DO UPDATE SET
			last_read_sequence = GREATEST(read_states.last_read_sequence, EXCLUDED.last_read_sequence),
			marked_unread_at_sequence = NULL,
			updated_at = now()`, col)

	if _, err := s.pool.Exec(ctx, query, userID, target.ID, sequence); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *ReadStateStore) MarkUnread(ctx context.Context, userID uuid.UUID, target models.Target, sequence int64) error {
	col, err := scopeColumn(target)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO read_states (user_id, %[1]s, last_read_sequence, marked_unread_at_sequence, updated_at)
		VALUES ($1, $2, 0, $3, now())
		ON CONFLICT (user_id, %[1]s) WHERE %[1]s IS NOT NULL
		DO UPDATE SET
			marked_unread_at_sequence = EXCLUDED.marked_unread_at_sequence,
			updated_at = now()`, col)

	if _, err := s.pool.Exec(ctx, query, userID, target.ID, sequence); err != nil {
		return fmt.Errorf("mark unread: %w", err)
	}
	return nil
}
