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

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, email, display_name, created_at
		FROM users
		WHERE id = $1`

	var u models.User
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *UserStore) GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	users := make(map[uuid.UUID]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}

	query := `
		SELECT id, email, display_name, created_at
		FROM users
		WHERE id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// FindByDisplayName resolves an @mention. Display names are not unique, so
// the oldest matching account wins, which keeps resolution stable.
func (s *UserStore) FindByDisplayName(ctx context.Context, workspaceID uuid.UUID, name string) (*models.User, error) {
	query := `
		SELECT u.id, u.email, u.display_name, u.created_at
		FROM users u
		JOIN workspace_members wm ON wm.user_id = u.id
		WHERE wm.workspace_id = $1 AND lower(u.display_name) = lower($2)
		ORDER BY u.created_at
		LIMIT 1`

	var u models.User
	err := s.pool.QueryRow(ctx, query, workspaceID, name).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by name: %w", err)
	}
	return &u, nil
}
