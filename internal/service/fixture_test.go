package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/repository/memory"
	"github.com/lalith-99/chorus/internal/retry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	room   string
	event  string
	data   any
	except uuid.UUID
}

// recorder is a Broadcaster that keeps everything it was asked to send.
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(ctx context.Context, room, event string, data any) {
	r.EmitExcept(ctx, room, event, data, uuid.Nil)
}

func (r *recorder) EmitExcept(_ context.Context, room, event string, data any, exceptUser uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room: room, event: event, data: data, except: exceptUser})
}

func (r *recorder) find(room, event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.room == room && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, room, event string) emitted {
	t.Helper()
	found := r.find(room, event)
	require.NotEmpty(t, found, "no %s emitted to %s", event, room)
	return found[len(found)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type published struct {
	topic   string
	key     string
	payload any
}

type recordingProducer struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingProducer) Publish(_ context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload})
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) onTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	mem      *memory.Store
	repos    *repository.Store
	bc       *recorder
	hub      *realtime.Hub
	redis    *miniredis.Miniredis
	clock    *fakeClock
	producer *recordingProducer
	opts     Options
	svc      *Services

	ws      models.Workspace
	general models.Channel
}

type fixtureOption func(*Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := memory.New()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		mem:      mem,
		repos:    mem.Repositories(),
		bc:       &recorder{},
		hub:      realtime.NewHub("test", nil, zap.NewNop()),
		redis:    mr,
		clock:    &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		producer: &recordingProducer{},
	}

	options := DefaultOptions()
	options.Retry = retry.Policy{Attempts: 3}
	deps := Deps{
		Store:       f.repos,
		Hub:         f.hub,
		Broadcaster: f.bc,
		UnreadCache: cache.NewRedisUnreadCache(rdb),
		Presence:    cache.NewMemoryPresence(f.clock.Now),
		Producer:    f.producer,
		Options:     options,
		Logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(&deps)
	}
	f.opts = deps.Options
	f.svc = New(deps)
	t.Cleanup(f.svc.Jobs.Wait)

	f.ws = mem.AddWorkspace("acme")
	f.general = mem.AddChannel(f.ws.ID, "general")
	return f
}

// user adds a workspace member and returns their principal.
func (f *fixture) user(name string) auth.Principal {
	return f.userWithRole(name, models.RoleMember, false)
}

func (f *fixture) userWithRole(name, role string, locked bool) auth.Principal {
	u := f.mem.AddUser(models.User{DisplayName: name, Email: name + "@example.com"})
	f.mem.AddWorkspaceMember(f.ws.ID, u.ID, role, locked)
	return auth.Principal{UserID: u.ID, DisplayName: u.DisplayName, DisplayEmail: u.Email}
}

func (f *fixture) join(channelID uuid.UUID, users ...auth.Principal) {
	for _, u := range users {
		require.NoError(f.t, f.repos.Memberships.AddMember(f.ctx, channelID, u.UserID, models.RoleMember))
	}
}

func (f *fixture) send(p auth.Principal, target models.Target, content string) *MessageView {
	f.t.Helper()
	v, err := f.svc.Messages.Send(f.ctx, p, SendInput{Target: target, Content: content})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) client(p auth.Principal) *realtime.Client {
	return realtime.NewClient(nil, p, zap.NewNop())
}

func requireCode(t *testing.T, err error, code string) *apperror.Error {
	t.Helper()
	require.Error(t, err)
	appErr := apperror.As(err)
	require.Equal(t, code, appErr.Code, "error: %v", err)
	return appErr
}
