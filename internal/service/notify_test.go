package service

import (
	"strings"
	"testing"
	"time"

	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMentions(t *testing.T) {
	tests := []struct {
		in   string
		want Mentions
	}{
		{"hello world", Mentions{}},
		{"@bob hi", Mentions{Users: []string{"bob"}}},
		{"hi @Bob and @bob and @carol.", Mentions{Users: []string{"bob", "carol"}}},
		{"mail me at bob@example.com", Mentions{}},
		{"@channel deploy done", Mentions{Channel: true}},
		{"@everyone standup", Mentions{Channel: true}},
		{"@here anyone around? @dave", Mentions{Users: []string{"dave"}, Here: true}},
		{"@@bob", Mentions{}},
		{"(@jane.doe)", Mentions{Users: []string{"jane.doe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMentions(tt.in))
		})
	}
}

func TestPreviewStripsMarkupAndTruncates(t *testing.T) {
	assert.Equal(t, "bold & plain", preview("<b>bold</b> &amp; <script>x</script>plain"))

	long := preview(strings.Repeat("a", 500))
	assert.Equal(t, previewLength, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestNotificationModeFiltering(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user("alice"), f.user("bob"), f.user("carol")
	f.join(f.general.ID, a, b, c)
	f.mem.SetNotificationMode(f.general.ID, b.UserID, models.NotifyMentions)
	f.mem.SetNotificationMode(f.general.ID, c.UserID, models.NotifyMuted)
	target := models.ChannelTarget(f.general.ID)

	f.send(a, target, "@channel release is out")
	assert.Empty(t, f.mem.Notifications())
	assert.Empty(t, f.bc.find(realtime.UserRoom(b.UserID), realtime.EventNotificationNew))
	assert.Empty(t, f.bc.find(realtime.UserRoom(c.UserID), realtime.EventNotificationNew))

	msg := f.send(a, target, "@bob hello")
	notes := f.mem.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, b.UserID, notes[0].UserID)
	assert.Equal(t, models.NotificationMention, notes[0].Type)
	assert.Equal(t, msg.ID, notes[0].MessageID)
	assert.Equal(t, a.UserID, notes[0].ActorID)
	assert.Equal(t, "@bob hello", notes[0].Content)

	emitted := f.bc.last(t, realtime.UserRoom(b.UserID), realtime.EventNotificationNew).data.(models.Notification)
	assert.Equal(t, notes[0].ID, emitted.ID)
	assert.Empty(t, f.bc.find(realtime.UserRoom(c.UserID), realtime.EventNotificationNew))

	f.svc.Jobs.Wait()
	pushes := f.producer.onTopic(f.opts.PushTopic)
	require.Len(t, pushes, 1)
	assert.Equal(t, PushKindNotification, pushes[0].payload.(PushJob).Kind)
}

func TestNotificationRecipientsAreDeduplicatedByPriority(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user("alice"), f.user("bob"), f.user("carol")
	f.join(f.general.ID, a, b, c)

	f.send(a, models.ChannelTarget(f.general.ID), "@bob @channel @alice heads up")
	notes := f.mem.Notifications()
	require.Len(t, notes, 2, "sender is never notified and bob only once")

	types := map[string]models.NotificationType{}
	for _, n := range notes {
		if n.UserID == b.UserID {
			types["bob"] = n.Type
		}
		if n.UserID == c.UserID {
			types["carol"] = n.Type
		}
	}
	assert.Equal(t, models.NotificationMention, types["bob"])
	assert.Equal(t, models.NotificationChannel, types["carol"])
}

func TestHereNotifiesOnlyActiveMembers(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user("alice"), f.user("bob"), f.user("carol")
	f.join(f.general.ID, a, b, c)
	require.NoError(t, f.svc.Presence.SetStatus(f.ctx, b.UserID, f.ws.ID, models.PresenceActive))
	require.NoError(t, f.svc.Presence.SetStatus(f.ctx, c.UserID, f.ws.ID, models.PresenceAway))

	f.send(a, models.ChannelTarget(f.general.ID), "@here quick question")
	notes := f.mem.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, b.UserID, notes[0].UserID)
	assert.Equal(t, models.NotificationHere, notes[0].Type)

	f.clock.Advance(f.opts.PresenceTTL + time.Second)
	f.send(a, models.ChannelTarget(f.general.ID), "@here still there?")
	assert.Len(t, f.mem.Notifications(), 1, "expired presence counts as offline")
}

func TestMentionOfNonMemberIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.user("alice")
	f.user("bob")
	f.join(f.general.ID, a)

	f.send(a, models.ChannelTarget(f.general.ID), "@bob can you see this?")
	assert.Empty(t, f.mem.Notifications())
}

func TestConversationMentions(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user("alice"), f.user("bob"), f.user("carol")
	f.user("dave")
	conv := f.mem.AddConversation(f.ws.ID, a.UserID, b.UserID, c.UserID)

	f.send(a, models.ConversationTarget(conv.ID), "@channel @here @BOB @dave")
	notes := f.mem.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, b.UserID, notes[0].UserID)
	assert.Equal(t, models.NotificationMention, notes[0].Type)
	require.NotNil(t, notes[0].ConversationID)
	assert.Equal(t, conv.ID, *notes[0].ConversationID)
}

func TestThreadReplyNotifiesFollowersUnlessMuted(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user("alice"), f.user("bob"), f.user("carol")
	f.join(f.general.ID, a, b, c)
	parent := f.send(a, models.ChannelTarget(f.general.ID), "thoughts?")

	_, err := f.svc.Threads.Reply(f.ctx, c, parent.ID, "one")
	require.NoError(t, err)
	f.mem.SetNotificationMode(f.general.ID, c.UserID, models.NotifyMuted)

	_, err = f.svc.Threads.Reply(f.ctx, b, parent.ID, "two")
	require.NoError(t, err)

	var forAlice, forCarol int
	for _, n := range f.mem.Notifications() {
		assert.Equal(t, models.NotificationThreadReply, n.Type)
		switch n.UserID {
		case a.UserID:
			forAlice++
		case c.UserID:
			forCarol++
		}
	}
	assert.Equal(t, 2, forAlice)
	assert.Equal(t, 0, forCarol)
}
