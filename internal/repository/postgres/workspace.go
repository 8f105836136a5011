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

type WorkspaceStore struct {
	pool *pgxpool.Pool
}

func NewWorkspaceStore(pool *pgxpool.Pool) *WorkspaceStore {
	return &WorkspaceStore{pool: pool}
}

func (s *WorkspaceStore) GetMember(ctx context.Context, workspaceID, userID uuid.UUID) (*models.WorkspaceMember, error) {
	query := `
		SELECT workspace_id, user_id, role, locked
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2`

	var m models.WorkspaceMember
	err := s.pool.QueryRow(ctx, query, workspaceID, userID).Scan(
		&m.WorkspaceID,
		&m.UserID,
		&m.Role,
		&m.Locked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workspace member: %w", err)
	}
	return &m, nil
}

func (s *WorkspaceStore) ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM workspace_members
		WHERE workspace_id = $1`

	return queryIDs(ctx, s.pool, "list workspace members", query, workspaceID)
}

// queryIDs runs a single-column uuid query. Several stores need exactly
// this shape, so the scan loop lives here once.
func queryIDs(ctx context.Context, pool *pgxpool.Pool, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return ids, nil
}
