package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/db"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests need a disposable database: DATABASE_URL=postgres://... go test ./internal/repository/postgres
func newTestStore(t *testing.T) (*repository.Store, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := db.New(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, conn.Migrate(ctx))
	return New(conn.Pool()), conn.Pool()
}

type seeded struct {
	workspace uuid.UUID
	channel   uuid.UUID
	author    uuid.UUID
}

// seed creates a fresh workspace so tests never see each other's rows.
func seed(t *testing.T, store *repository.Store, pool *pgxpool.Pool) seeded {
	t.Helper()
	ctx := context.Background()
	s := seeded{workspace: uuid.New(), author: uuid.New()}

	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, name) VALUES ($1, $2)`, s.workspace, "ws-"+s.workspace.String()[:8])
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO users (id, email, display_name) VALUES ($1, $2, $3)`,
		s.author, s.author.String()+"@example.com", "author")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO workspace_members (workspace_id, user_id) VALUES ($1, $2)`, s.workspace, s.author)
	require.NoError(t, err)

	ch, err := store.Channels.Create(ctx, s.workspace, "general", false)
	require.NoError(t, err)
	s.channel = ch.ID
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM messages WHERE author_id = $1`, s.author)
		_, _ = pool.Exec(context.Background(), `DELETE FROM workspaces WHERE id = $1`, s.workspace)
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, s.author)
	})
	return s
}

func (s seeded) message(content string) *models.Message {
	channelID := s.channel
	return &models.Message{ID: uuid.New(), Content: content, AuthorID: s.author, ChannelID: &channelID}
}

func TestConcurrentSendsGetDistinctSequences(t *testing.T) {
	store, pool := newTestStore(t)
	s := seed(t, store, pool)
	ctx := context.Background()

	const senders = 20
	var (
		mu   sync.Mutex
		seqs []int64
		wg   sync.WaitGroup
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				created, err := store.Messages.CreateWithNextSequence(ctx, s.message(fmt.Sprintf("m%d", i)))
				if errors.Is(err, apperror.ErrSequenceConflict) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seqs = append(seqs, created.Sequence)
				mu.Unlock()
				return
			}
			t.Errorf("sender %d never got a sequence", i)
		}(i)
	}
	wg.Wait()

	require.Len(t, seqs, senders)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}

	max, err := store.Messages.MaxSequence(ctx, models.ChannelTarget(s.channel))
	require.NoError(t, err)
	assert.Equal(t, int64(senders), max)
}

func TestSequenceCollisionMapsToConflict(t *testing.T) {
	store, pool := newTestStore(t)
	s := seed(t, store, pool)
	ctx := context.Background()

	// An open transaction holds sequence 1 so the allocator computes the
	// same value and blocks on the unique index until the commit.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO messages (id, content, author_id, channel_id, sequence) VALUES ($1, 'held', $2, $3, 1)`,
		uuid.New(), s.author, s.channel)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := store.Messages.CreateWithNextSequence(ctx, s.message("loser"))
		errc <- err
	}()

	require.Eventually(t, func() bool {
		var waiting int
		err := pool.QueryRow(ctx, `
			SELECT count(*) FROM pg_stat_activity
			WHERE datname = current_database() AND wait_event_type = 'Lock'`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, tx.Commit(ctx))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, apperror.ErrSequenceConflict)
	case <-time.After(5 * time.Second):
		t.Fatal("insert never returned")
	}

	created, err := store.Messages.CreateWithNextSequence(ctx, s.message("retry"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), created.Sequence)
}

func TestReadStateWatermarkAndAnchor(t *testing.T) {
	store, pool := newTestStore(t)
	s := seed(t, store, pool)
	ctx := context.Background()
	target := models.ChannelTarget(s.channel)

	state, err := store.ReadStates.Get(ctx, s.author, target)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.EffectiveReadSequence())

	require.NoError(t, store.ReadStates.MarkRead(ctx, s.author, target, 45))
	require.NoError(t, store.ReadStates.MarkUnread(ctx, s.author, target, 30))
	state, err = store.ReadStates.Get(ctx, s.author, target)
	require.NoError(t, err)
	assert.Equal(t, int64(45), state.LastReadSequence)
	assert.Equal(t, int64(29), state.EffectiveReadSequence())

	require.NoError(t, store.ReadStates.MarkRead(ctx, s.author, target, 50))
	state, err = store.ReadStates.Get(ctx, s.author, target)
	require.NoError(t, err)
	assert.Nil(t, state.MarkedUnreadAtSequence)
	assert.Equal(t, int64(50), state.EffectiveReadSequence())
}

func TestReactionAddAndRemoveReportChanges(t *testing.T) {
	store, pool := newTestStore(t)
	s := seed(t, store, pool)
	ctx := context.Background()

	msg, err := store.Messages.CreateWithNextSequence(ctx, s.message("react to me"))
	require.NoError(t, err)

	added, err := store.Reactions.Add(ctx, msg.ID, s.author, "👍")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.Reactions.Add(ctx, msg.ID, s.author, "👍")
	require.NoError(t, err)
	assert.False(t, added)

	rows, err := store.Reactions.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "author", rows[0].UserName)

	removed, err := store.Reactions.Remove(ctx, msg.ID, s.author, "👍")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Reactions.Remove(ctx, msg.ID, s.author, "👍")
	require.NoError(t, err)
	assert.False(t, removed)
}
