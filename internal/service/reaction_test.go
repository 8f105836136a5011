package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionToggleFlipsMembership(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.join(f.general.ID, alice, bob)
	msg := f.send(alice, models.ChannelTarget(f.general.ID), "ship it")

	for _, want := range []string{ReactionAdded, ReactionRemoved, ReactionAdded} {
		action, err := f.svc.Reactions.Toggle(f.ctx, bob, msg.ID, "👍")
		require.NoError(t, err)
		assert.Equal(t, want, action)

		update := f.bc.last(t, realtime.ChannelRoom(f.general.ID), realtime.EventReactionUpdate).data.(ReactionUpdate)
		assert.Equal(t, want, update.Action)
		assert.Equal(t, "bob", update.UserName)
	}

	_, err := f.svc.Reactions.Toggle(f.ctx, alice, msg.ID, "👍")
	require.NoError(t, err)
	_, err = f.svc.Reactions.Toggle(f.ctx, alice, msg.ID, "🎉")
	require.NoError(t, err)

	groups, err := f.svc.Reactions.Get(f.ctx, alice, msg.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	byEmoji := make(map[string]ReactionGroup)
	for _, g := range groups {
		byEmoji[g.Emoji] = g
	}
	assert.Equal(t, 2, byEmoji["👍"].Count)
	assert.ElementsMatch(t, []ReactionUser{{ID: bob.UserID, Name: "bob"}, {ID: alice.UserID, Name: "alice"}}, byEmoji["👍"].Users)
	assert.Equal(t, 1, byEmoji["🎉"].Count)
}

func TestReactionToggleRequiresAccess(t *testing.T) {
	f := newFixture(t)
	alice, outsider := f.user("alice"), f.user("outsider")
	f.join(f.general.ID, alice)
	msg := f.send(alice, models.ChannelTarget(f.general.ID), "private-ish")

	_, err := f.svc.Reactions.Toggle(f.ctx, outsider, msg.ID, "👀")
	requireCode(t, err, apperror.CodeForbidden)

	_, err = f.svc.Reactions.Toggle(f.ctx, alice, uuid.New(), "👀")
	requireCode(t, err, apperror.CodeNotFound)

	_, err = f.svc.Reactions.Toggle(f.ctx, alice, msg.ID, "  ")
	requireCode(t, err, apperror.CodeInvalidPayload)

	assert.Empty(t, f.bc.find(realtime.ChannelRoom(f.general.ID), realtime.EventReactionUpdate))
}

// lockstepReactions holds the first two Remove calls until both have read
// an empty row set, forcing both toggles down the insert path.
type lockstepReactions struct {
	repository.ReactionRepository
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func newLockstepReactions(inner repository.ReactionRepository) *lockstepReactions {
	r := &lockstepReactions{ReactionRepository: inner}
	r.arrived.Add(2)
	return r
}

func (r *lockstepReactions) Remove(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	removed, err := r.ReactionRepository.Remove(ctx, messageID, userID, emoji)
	if r.calls.Add(1) <= 2 {
		r.arrived.Done()
		r.arrived.Wait()
	}
	return removed, err
}

func TestReactionToggleRaceEndsInOppositeStates(t *testing.T) {
	var repo *lockstepReactions
	f := newFixture(t, func(d *Deps) {
		repo = newLockstepReactions(d.Store.Reactions)
		store := *d.Store
		store.Reactions = repo
		d.Store = &store
	})
	alice, bob := f.user("alice"), f.user("bob")
	f.join(f.general.ID, alice, bob)
	msg := f.send(alice, models.ChannelTarget(f.general.ID), "race me")

	actions := make([]string, 2)
	var wg sync.WaitGroup
	for i := range actions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action, err := f.svc.Reactions.Toggle(f.ctx, bob, msg.ID, "🔥")
			assert.NoError(t, err)
			actions[i] = action
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{ReactionAdded, ReactionRemoved}, actions)
	assert.Equal(t, int32(3), repo.calls.Load(), "the losing insert goes back to remove")

	groups, err := f.svc.Reactions.Get(f.ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
