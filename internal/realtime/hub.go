package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub owns room membership for the clients on this instance and fans
// broadcasts out locally and over the Bus.
type Hub struct {
	nodeID string
	bus    Bus
	logger *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	joined  map[*Client]map[string]struct{}
	clients map[uuid.UUID]map[*Client]struct{}
}

func NewHub(nodeID string, bus Bus, logger *zap.Logger) *Hub {
	if bus == nil {
		bus = LocalBus{}
	}
	return &Hub{
		nodeID:  nodeID,
		bus:     bus,
		logger:  logger.Named("hub"),
		rooms:   make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
		clients: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Start subscribes to the bus. Envelopes this node published are skipped
// since they were already delivered locally.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.Subscribe(ctx, func(env Envelope) {
		if env.Origin == h.nodeID {
			return
		}
		frame, err := json.Marshal(Outbound{Event: env.Event, Data: env.Data})
		if err != nil {
			h.logger.Warn("encode remote frame", zap.Error(err))
			return
		}
		var except uuid.UUID
		if env.ExceptUser != nil {
			except = *env.ExceptUser
		}
		h.deliver(env.Room, frame, except)
	})
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]struct{})
	}
	if h.clients[c.UserID()] == nil {
		h.clients[c.UserID()] = make(map[*Client]struct{})
	}
	h.clients[c.UserID()][c] = struct{}{}
}

// Unregister removes c from every room it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.joined[c] {
		h.leaveLocked(c, room)
	}
	delete(h.joined, c)
	if set := h.clients[c.UserID()]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID())
		}
	}
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]struct{})
	}
	h.joined[c][room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined[c], room)
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][room]
	return ok
}

// Rooms lists the rooms c is in.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[c]))
	for room := range h.joined[c] {
		out = append(out, room)
	}
	return out
}

// Connections reports how many clients the user has on this instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Emit broadcasts to everyone in room on every instance.
func (h *Hub) Emit(ctx context.Context, room, event string, data any) {
	h.emit(ctx, room, event, data, uuid.Nil)
}

// EmitExcept broadcasts to everyone in room except the connections of
// exceptUser.
func (h *Hub) EmitExcept(ctx context.Context, room, event string, data any, exceptUser uuid.UUID) {
	h.emit(ctx, room, event, data, exceptUser)
}

func (h *Hub) emit(ctx context.Context, room, event string, data any, except uuid.UUID) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Outbound{Event: event, Data: json.RawMessage(raw)})
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(room, frame, except)

	if !h.bus.CrossInstance() {
		return
	}
	env := Envelope{Origin: h.nodeID, Room: room, Event: event, Data: raw}
	if except != uuid.Nil {
		env.ExceptUser = &except
	}
	if err := h.bus.Publish(ctx, env); err != nil {
		// Local delivery already happened; other instances miss this one.
		h.logger.Warn("bus publish failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

func (h *Hub) deliver(room string, frame []byte, except uuid.UUID) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if except != uuid.Nil && c.UserID() == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Send(frame)
	}
}
