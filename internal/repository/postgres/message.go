package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
)

// uniqueViolation is SQLSTATE 23505. On messages it can only come from the
// (scope, sequence) unique indexes, since ids are generated client-side as
// random UUIDs.
const uniqueViolation = "23505"

const messageColumns = `id, content, author_id, channel_id, conversation_id, parent_id,
	sequence, reply_count, deleted_at, created_at, updated_at`

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// scopeColumn picks the column a target is keyed by. It is only ever one of
// two constants, never user input, so it is safe to splice into SQL.
func scopeColumn(t models.Target) (string, error) {
	switch t.Type {
	case models.TargetChannel:
		return "channel_id", nil
	case models.TargetConversation:
		return "conversation_id", nil
	default:
		return "", fmt.Errorf("unknown target type %q", t.Type)
	}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID,
		&m.Content,
		&m.AuthorID,
		&m.ChannelID,
		&m.ConversationID,
		&m.ParentID,
		&m.Sequence,
		&m.ReplyCount,
		&m.DeletedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateWithNextSequence computes COALESCE(MAX(sequence),0)+1 inside the
// INSERT itself. Two concurrent inserts can still compute the same value;
// the loser hits the unique index and gets ErrSequenceConflict.
func (s *MessageStore) CreateWithNextSequence(ctx context.Context, msg *models.Message) (*models.Message, error) {
	col, err := scopeColumn(msg.Target())
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO messages (id, content, author_id, channel_id, conversation_id, parent_id,
			sequence, reply_count, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, COALESCE(MAX(sequence), 0) + 1, 0, now(), now()
		FROM messages
		WHERE %s = $7
		RETURNING %s`, col, messageColumns)

	created, err := scanMessage(s.pool.QueryRow(ctx, query,
		msg.ID,
		msg.Content,
		msg.AuthorID,
		msg.ChannelID,
		msg.ConversationID,
		msg.ParentID,
		msg.Target().ID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperror.ErrSequenceConflict
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID, authorID uuid.UUID) (*models.Message, error) {
	// The author and not-yet-deleted checks are part of the WHERE clause so
	// the gate and the write are one atomic statement.
	query := `
		UPDATE messages
		SET deleted_at = now()
		WHERE id = $1 AND author_id = $2 AND deleted_at IS NULL
		RETURNING ` + messageColumns

	m, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, authorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}

func (s *MessageStore) ListBefore(ctx context.Context, target models.Target, before int64, limit int) ([]models.Message, error) {
	col, err := scopeColumn(target)
	if err != nil {
		return nil, err
	}

	var (
		query string
		args  []any
	)
	if before > 0 {
		query = fmt.Sprintf(`
			SELECT %s FROM messages
			WHERE %s = $1 AND parent_id IS NULL AND sequence < $2
			ORDER BY sequence DESC
			LIMIT $3`, messageColumns, col)
		args = []any{target.ID, before, limit}
	} else {
		query = fmt.Sprintf(`
			SELECT %s FROM messages
			WHERE %s = $1 AND parent_id IS NULL
			ORDER BY sequence DESC
			LIMIT $2`, messageColumns, col)
		args = []any{target.ID, limit}
	}

	return s.queryMessages(ctx, "list messages", query, args...)
}

func (s *MessageStore) ListReplies(ctx context.Context, parentID uuid.UUID) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE parent_id = $1
		ORDER BY sequence ASC`

	return s.queryMessages(ctx, "list replies", query, parentID)
}

func (s *MessageStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return messages, nil
}

func (s *MessageStore) MaxSequence(ctx context.Context, target models.Target) (int64, error) {
	col, err := scopeColumn(target)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE %s = $1`, col)

	var max int64
	if err := s.pool.QueryRow(ctx, query, target.ID).Scan(&max); err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return max, nil
}

func (s *MessageStore) IncrementReplyCount(ctx context.Context, parentID uuid.UUID) (int, error) {
	query := `
		UPDATE messages
		SET reply_count = reply_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING reply_count`

	var count int
	if err := s.pool.QueryRow(ctx, query, parentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment reply count: %w", err)
	}
	return count, nil
}

func (s *MessageStore) ClaimAttachments(ctx context.Context, messageID, uploaderID uuid.UUID, ids []uuid.UUID) ([]models.Attachment, error) {
	if len(ids) == 0 {
		return []models.Attachment{}, nil
	}

	// message_id IS NULL makes a second claim of the same upload a no-op.
	query := `
		UPDATE attachments
		SET message_id = $1
		WHERE id = ANY($2) AND uploader_id = $3 AND message_id IS NULL
		RETURNING id, message_id, uploader_id, file_name, mime_type, size_bytes, url, created_at`

	rows, err := s.pool.Query(ctx, query, messageID, ids, uploaderID)
	if err != nil {
		return nil, fmt.Errorf("claim attachments: %w", err)
	}
	return collectAttachments(rows)
}

func (s *MessageStore) ListAttachments(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.Attachment, error) {
	out := make(map[uuid.UUID][]models.Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, message_id, uploader_id, file_name, mime_type, size_bytes, url, created_at
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	atts, err := collectAttachments(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		out[*a.MessageID] = append(out[*a.MessageID], a)
	}
	return out, nil
}

func collectAttachments(rows pgx.Rows) ([]models.Attachment, error) {
	defer rows.Close()

	atts := make([]models.Attachment, 0)
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&a.UploaderID,
			&a.FileName,
			&a.MimeType,
			&a.SizeBytes,
			&a.URL,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return atts, nil
}
