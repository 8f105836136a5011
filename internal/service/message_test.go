package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliceAndBobEndToEnd(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.join(f.general.ID, alice, bob)
	target := models.ChannelTarget(f.general.ID)

	msg := f.send(alice, target, "hello")
	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, "alice", msg.Author.DisplayName)

	got := f.bc.last(t, realtime.ChannelRoom(f.general.ID), realtime.EventMessageNew)
	view, ok := got.data.(*MessageView)
	require.True(t, ok)
	assert.Equal(t, int64(1), view.Sequence)

	update := f.bc.last(t, realtime.UserRoom(bob.UserID), realtime.EventUnreadUpdate).data.(UnreadUpdate)
	assert.Equal(t, int64(1), update.Count)
	assert.Empty(t, f.bc.find(realtime.UserRoom(alice.UserID), realtime.EventUnreadUpdate), "author gets no unread bump")

	counts, err := f.svc.Unread.Fetch(f.ctx, bob.UserID, []uuid.UUID{f.general.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Channels[f.general.ID])

	require.NoError(t, f.svc.Unread.MarkRead(f.ctx, bob.UserID, target))

	counts, err = f.svc.Unread.Fetch(f.ctx, bob.UserID, []uuid.UUID{f.general.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Channels[f.general.ID])

	cached, err := f.redis.Get(cache.UnreadKey(bob.UserID, target))
	require.NoError(t, err)
	assert.Equal(t, "0", cached)

	wsUpdate := f.bc.last(t, realtime.UserRoom(bob.UserID), realtime.EventWorkspaceUnreadUpdate).data.(WorkspaceUnreadUpdate)
	assert.Equal(t, int64(0), wsUpdate.Count)

	f.send(alice, target, "again")
	counts, err = f.svc.Unread.Fetch(f.ctx, bob.UserID, []uuid.UUID{f.general.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Channels[f.general.ID])
}

func TestConcurrentSendsGetDistinctSequences(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")
	f.join(f.general.ID, alice)
	target := models.ChannelTarget(f.general.ID)

	const n = 50
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.svc.Messages.Send(context.Background(), alice, SendInput{Target: target, Content: "hi"})
			if !assert.NoError(t, err) {
				return
			}
			seqs <- v.Sequence
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "sequence %d assigned twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

// conflictingMessages loses the sequence race a fixed number of times.
type conflictingMessages struct {
	repository.MessageRepository
	failures int32
	calls    int32
}

func (c *conflictingMessages) CreateWithNextSequence(ctx context.Context, msg *models.Message) (*models.Message, error) {
	atomic.AddInt32(&c.calls, 1)
	if atomic.AddInt32(&c.failures, -1) >= 0 {
		return nil, apperror.ErrSequenceConflict
	}
	return c.MessageRepository.CreateWithNextSequence(ctx, msg)
}

func TestSendRetriesSequenceConflicts(t *testing.T) {
	var repo *conflictingMessages
	f := newFixture(t, func(d *Deps) {
		repo = &conflictingMessages{MessageRepository: d.Store.Messages, failures: 2}
		store := *d.Store
		store.Messages = repo
		d.Store = &store
	})
	alice := f.user("alice")
	f.join(f.general.ID, alice)

	v := f.send(alice, models.ChannelTarget(f.general.ID), "eventually")
	assert.Equal(t, int64(1), v.Sequence)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.calls))
}

func TestSendGivesUpAfterBoundedConflicts(t *testing.T) {
	var repo *conflictingMessages
	f := newFixture(t, func(d *Deps) {
		repo = &conflictingMessages{MessageRepository: d.Store.Messages, failures: 100}
		store := *d.Store
		store.Messages = repo
		d.Store = &store
	})
	alice := f.user("alice")
	f.join(f.general.ID, alice)

	_, err := f.svc.Messages.Send(f.ctx, alice, SendInput{Target: models.ChannelTarget(f.general.ID), Content: "never"})
	appErr := requireCode(t, err, apperror.CodeSequenceConflict)
	assert.Equal(t, apperror.KindConflict, appErr.Kind)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.calls))
	assert.Empty(t, f.bc.find(realtime.ChannelRoom(f.general.ID), realtime.EventMessageNew))
}

func TestSendValidationOrder(t *testing.T) {
	f := newFixture(t)
	member := f.user("member")
	outsider := f.user("outsider")
	lockedGuest := f.userWithRole("locked", models.RoleGuest, true)
	guest := f.userWithRole("guest", models.RoleGuest, false)
	granted := f.userWithRole("granted", models.RoleGuest, false)
	f.join(f.general.ID, member, lockedGuest, guest, granted)
	f.mem.GrantGuestAccess(f.general.ID, granted.UserID)

	archived := f.mem.AddChannel(f.ws.ID, "old")
	f.join(archived.ID, member, granted)
	f.mem.GrantGuestAccess(archived.ID, granted.UserID)
	f.mem.ArchiveChannel(archived.ID)

	general := models.ChannelTarget(f.general.ID)
	tests := []struct {
		name string
		err  func() error
		code string
	}{
		{"empty content", func() error {
			_, err := f.svc.Messages.Send(f.ctx, member, SendInput{Target: general, Content: "   "})
			return err
		}, apperror.CodeContentEmpty},
		{"too long", func() error {
			_, err := f.svc.Messages.Send(f.ctx, member, SendInput{Target: general, Content: strings.Repeat("é", f.opts.MaxMessageLength+1)})
			return err
		}, apperror.CodeContentTooLong},
		{"locked guest before anything else", func() error {
			_, err := f.svc.Messages.Send(f.ctx, lockedGuest, SendInput{Target: models.ChannelTarget(archived.ID), Content: "x"})
			return err
		}, apperror.CodeGuestLocked},
		{"guest without grant", func() error {
			_, err := f.svc.Messages.Send(f.ctx, guest, SendInput{Target: general, Content: "x"})
			return err
		}, apperror.CodeGuestNoChannelAccess},
		{"archived channel", func() error {
			_, err := f.svc.Messages.Send(f.ctx, member, SendInput{Target: models.ChannelTarget(archived.ID), Content: "x"})
			return err
		}, apperror.CodeChannelArchived},
		{"not a member", func() error {
			_, err := f.svc.Messages.Send(f.ctx, outsider, SendInput{Target: general, Content: "x"})
			return err
		}, apperror.CodeForbidden},
		{"unknown channel", func() error {
			_, err := f.svc.Messages.Send(f.ctx, member, SendInput{Target: models.ChannelTarget(uuid.New()), Content: "x"})
			return err
		}, apperror.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, tt.err(), tt.code)
		})
	}

	v, err := f.svc.Messages.Send(f.ctx, granted, SendInput{Target: general, Content: "guest with access"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Sequence)
}

func TestSendMessageRateLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.MessageLimiter = ratelimit.New(2, time.Minute, 30*time.Second)
	})
	alice := f.user("alice")
	f.join(f.general.ID, alice)
	target := models.ChannelTarget(f.general.ID)

	f.send(alice, target, "one")
	f.send(alice, target, "two")
	_, err := f.svc.Messages.Send(f.ctx, alice, SendInput{Target: target, Content: "three"})
	appErr := requireCode(t, err, apperror.CodeMessageRateLimited)
	assert.Equal(t, apperror.KindRateLimited, appErr.Kind)
	assert.Greater(t, appErr.RetryAfter, time.Duration(0))
}

func TestSendClaimsAttachments(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.join(f.general.ID, alice, bob)
	mine := f.mem.AddAttachment(alice.UserID, "a.png", "image/png", "https://files/a.png", 10)
	theirs := f.mem.AddAttachment(bob.UserID, "b.png", "image/png", "https://files/b.png", 10)

	v, err := f.svc.Messages.Send(f.ctx, alice, SendInput{
		Target:        models.ChannelTarget(f.general.ID),
		AttachmentIDs: []uuid.UUID{mine.ID, theirs.ID},
	})
	require.NoError(t, err)
	require.Len(t, v.Attachments, 1)
	assert.Equal(t, mine.ID, v.Attachments[0].ID)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.join(f.general.ID, alice, bob)
	msg := f.send(alice, models.ChannelTarget(f.general.ID), "oops")

	requireCode(t, f.svc.Messages.Delete(f.ctx, bob, msg.ID), apperror.CodeForbidden)
	require.NoError(t, f.svc.Messages.Delete(f.ctx, alice, msg.ID))

	ev := f.bc.last(t, realtime.ChannelRoom(f.general.ID), realtime.EventMessageDeleted).data.(DeletedEvent)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.False(t, ev.DeletedAt.IsZero())

	requireCode(t, f.svc.Messages.Delete(f.ctx, alice, msg.ID), apperror.CodeNotFound)
	requireCode(t, f.svc.Messages.Delete(f.ctx, alice, uuid.New()), apperror.CodeNotFound)
}

func TestGetOlderPagesBackwards(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")
	f.join(f.general.ID, alice)
	target := models.ChannelTarget(f.general.ID)
	for i := 0; i < 5; i++ {
		f.send(alice, target, "m")
	}

	seqs := func(p *Page) []int64 {
		out := make([]int64, 0, len(p.Messages))
		for _, m := range p.Messages {
			out = append(out, m.Sequence)
		}
		return out
	}

	page, err := f.svc.Messages.GetOlder(f.ctx, alice, target, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, seqs(page))
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, int64(4), *page.NextCursor)

	page, err = f.svc.Messages.GetOlder(f.ctx, alice, target, *page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, seqs(page))
	assert.True(t, page.HasMore)

	page, err = f.svc.Messages.GetOlder(f.ctx, alice, target, *page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, seqs(page))
	assert.False(t, page.HasMore)
	assert.Equal(t, "alice", page.Messages[0].Author.DisplayName)

	outsider := f.user("outsider")
	_, err = f.svc.Messages.GetOlder(f.ctx, outsider, target, 0, 10)
	requireCode(t, err, apperror.CodeForbidden)
}

func TestDirectMessagePushesOtherParticipants(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")
	conv := f.mem.AddConversation(f.ws.ID, alice.UserID, bob.UserID, carol.UserID)

	f.send(alice, models.ConversationTarget(conv.ID), "lunch?")
	f.svc.Jobs.Wait()

	pushed := f.producer.onTopic(f.opts.PushTopic)
	require.Len(t, pushed, 2)
	got := map[uuid.UUID]bool{}
	for _, p := range pushed {
		job := p.payload.(PushJob)
		assert.Equal(t, PushKindMessage, job.Kind)
		assert.Equal(t, "lunch?", job.Preview)
		got[job.UserID] = true
	}
	assert.True(t, got[bob.UserID])
	assert.True(t, got[carol.UserID])
}

func TestSendQueuesLinkPreviews(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")
	f.join(f.general.ID, alice)

	f.send(alice, models.ChannelTarget(f.general.ID), "see https://go.dev/doc and https://go.dev/doc.")
	f.svc.Jobs.Wait()

	jobs := f.producer.onTopic(f.opts.LinkPreviewTopic)
	require.Len(t, jobs, 1)
	assert.Equal(t, "https://go.dev/doc", jobs[0].payload.(LinkPreviewJob).URL)
}
