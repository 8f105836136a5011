package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/queue"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository/memory"
	"github.com/lalith-99/chorus/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

type harness struct {
	t       *testing.T
	mem     *memory.Store
	srv     *httptest.Server
	mu      sync.Mutex
	users   map[uuid.UUID]auth.Principal
	ws      models.Workspace
	general models.Channel
}

func newHarness(t *testing.T, limiter *ratelimit.Limiter) *harness {
	t.Helper()
	logger := zap.NewNop()
	mem := memory.New()
	hub := realtime.NewHub("test", nil, logger)
	dedupe, err := cache.NewLRUDeduper(128, time.Now)
	require.NoError(t, err)

	svc := service.New(service.Deps{
		Store:    mem.Repositories(),
		Hub:      hub,
		Presence: cache.NewMemoryPresence(time.Now),
		Deduper:  dedupe,
		Producer: queue.NewLogProducer(logger),
		Options:  service.DefaultOptions(),
		Logger:   logger,
	})
	gw := New(svc, limiter, logger)

	h := &harness{t: t, mem: mem, users: make(map[uuid.UUID]auth.Principal)}
	h.ws = mem.AddWorkspace("acme")
	h.general = mem.AddChannel(h.ws.ID, "general")

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		p, ok := h.users[uuid.MustParse(r.URL.Query().Get("user"))]
		h.mu.Unlock()
		if !ok {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Serve(context.Background(), realtime.NewClient(conn, p, logger))
	}))
	t.Cleanup(func() {
		h.srv.Close()
		svc.Jobs.Wait()
	})
	return h
}

func (h *harness) user(name string) auth.Principal {
	u := h.mem.AddUser(models.User{DisplayName: name, Email: name + "@example.com"})
	h.mem.AddWorkspaceMember(h.ws.ID, u.ID, models.RoleMember, false)
	p := auth.Principal{UserID: u.ID, DisplayName: u.DisplayName, DisplayEmail: u.Email}
	h.mu.Lock()
	h.users[u.ID] = p
	h.mu.Unlock()
	return p
}

func (h *harness) joinGeneral(users ...auth.Principal) {
	for _, u := range users {
		require.NoError(h.t, h.mem.Repositories().Memberships.AddMember(context.Background(), h.general.ID, u.UserID, models.RoleMember))
	}
}

// dial connects and waits until the room snapshot is in place by
// round-tripping a workspace:join.
func (h *harness) dial(p auth.Principal) *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "?user=" + p.UserID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	emit(h.t, conn, realtime.EventWorkspaceJoin, map[string]any{"workspaceId": h.ws.ID}, 1)
	ack := waitAck(h.t, conn, 1)
	require.Equal(h.t, true, ack["success"])
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any, ack int64) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": json.RawMessage(raw), "ack": ack}))
}

// waitFor reads until a frame with the given event arrives, skipping
// broadcasts the test does not care about.
func waitFor(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func waitEvent(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	return waitFor(t, conn, func(f frame) bool { return f.Event == event })
}

func waitAck(t *testing.T, conn *websocket.Conn, n int64) map[string]any {
	t.Helper()
	f := waitFor(t, conn, func(f frame) bool {
		return f.Event == realtime.EventAck && f.Ack != nil && *f.Ack == n
	})
	var out map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

func TestSendIsAckedAndReachesTheChannel(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user("alice"), h.user("bob")
	h.joinGeneral(alice, bob)
	aliceConn, bobConn := h.dial(alice), h.dial(bob)

	emit(t, aliceConn, realtime.EventMessageSend, map[string]any{
		"targetId":   h.general.ID,
		"targetType": "channel",
		"content":    "hello",
	}, 2)

	ack := waitAck(t, aliceConn, 2)
	assert.Equal(t, true, ack["success"])
	assert.EqualValues(t, 1, ack["sequence"])
	assert.NotEmpty(t, ack["messageId"])

	f := waitEvent(t, bobConn, realtime.EventMessageNew)
	var msg struct {
		Content  string `json:"content"`
		Sequence int64  `json:"sequence"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.EqualValues(t, 1, msg.Sequence)
}

func TestRoomJoinWithoutMembershipIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user("alice")
	conn := h.dial(alice)

	emit(t, conn, realtime.EventRoomJoin, map[string]any{"roomId": h.general.ID, "roomType": "channel"}, 2)

	errFrame := waitEvent(t, conn, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, apperror.CodeForbidden, payload.Code)

	ack := waitAck(t, conn, 2)
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, apperror.CodeForbidden, ack["code"])
}

func TestUnknownEventAndBadPayload(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(h.user("alice"))

	emit(t, conn, "message:teleport", map[string]any{}, 2)
	ack := waitAck(t, conn, 2)
	assert.Equal(t, apperror.CodeUnknownEvent, ack["code"])

	emit(t, conn, realtime.EventMessageSend, map[string]any{"targetType": "galaxy"}, 3)
	ack = waitAck(t, conn, 3)
	assert.Equal(t, apperror.CodeInvalidPayload, ack["code"])
	assert.Contains(t, ack["error"], "targetId is required")
	assert.Contains(t, ack["error"], "targetType must be one of")
}

func TestMalformedFrameGetsAnErrorFrame(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(h.user("alice"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	f := waitEvent(t, conn, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, apperror.CodeInvalidPayload, payload.Code)
}

func TestGeneralRateLimitReportsRetryAfter(t *testing.T) {
	// The workspace:join inside dial uses one point.
	h := newHarness(t, ratelimit.New(2, time.Minute, time.Minute))
	conn := h.dial(h.user("alice"))

	emit(t, conn, realtime.EventPresenceHeartbeat, nil, 2)
	assert.Equal(t, true, waitAck(t, conn, 2)["success"])

	emit(t, conn, realtime.EventPresenceHeartbeat, nil, 3)
	f := waitEvent(t, conn, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, apperror.CodeRateLimited, payload.Code)
	assert.Greater(t, payload.RetryAfter, int64(0))
	assert.LessOrEqual(t, payload.RetryAfter, time.Minute.Milliseconds())

	ack := waitAck(t, conn, 3)
	assert.Equal(t, false, ack["success"])
}

func TestMalformedFramesSpendRateLimitPoints(t *testing.T) {
	h := newHarness(t, ratelimit.New(2, time.Minute, time.Minute))
	conn := h.dial(h.user("alice"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := waitEvent(t, conn, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, apperror.CodeInvalidPayload, payload.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{still not json")))
	f = waitEvent(t, conn, realtime.EventError)
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, apperror.CodeRateLimited, payload.Code)
	assert.Greater(t, payload.RetryAfter, int64(0))
}

func TestMarkReadNeedsExactlyOneScope(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user("alice")
	h.joinGeneral(alice)
	conn := h.dial(alice)

	emit(t, conn, realtime.EventUnreadMarkRead, map[string]any{}, 2)
	assert.Equal(t, apperror.CodeInvalidPayload, waitAck(t, conn, 2)["code"])

	emit(t, conn, realtime.EventUnreadMarkRead, map[string]any{
		"channelId":      h.general.ID,
		"conversationId": uuid.New(),
	}, 3)
	assert.Equal(t, apperror.CodeInvalidPayload, waitAck(t, conn, 3)["code"])

	emit(t, conn, realtime.EventUnreadMarkRead, map[string]any{"channelId": h.general.ID}, 4)
	assert.Equal(t, true, waitAck(t, conn, 4)["success"])
}

func TestPresenceEventsNeedAWorkspace(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user("alice")
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "?user=" + alice.UserID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	emit(t, conn, realtime.EventPresenceSetAway, nil, 1)
	assert.Equal(t, apperror.CodeInvalidPayload, waitAck(t, conn, 1)["code"])
}

func TestErrorPayloadHidesInternalCauses(t *testing.T) {
	p := errorPayload(apperror.Internal("load members", assert.AnError))
	assert.Equal(t, "internal error", p.Message)
	assert.Equal(t, apperror.CodeInternal, p.Code)

	p = errorPayload(apperror.RateLimited(apperror.CodeMessageRateLimited, 1500*time.Millisecond))
	assert.EqualValues(t, 1500, p.RetryAfter)
}
