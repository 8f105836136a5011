package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendQueueSize  = 256
)

// Client is one authenticated websocket connection. A user with several
// tabs open has several clients.
//
// The principal never changes after construction. The workspace and typing
// state are set by event handlers and guarded by mu.
type Client struct {
	id        string
	principal auth.Principal
	conn      *websocket.Conn
	logger    *zap.Logger

	mu          sync.Mutex
	send        chan []byte
	closed      bool
	workspaceID uuid.UUID
	typing      map[models.Target]struct{}
}

func NewClient(conn *websocket.Conn, principal auth.Principal, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		principal: principal,
		conn:      conn,
		logger:    logger.With(zap.String("conn_id", id), zap.String("user_id", principal.UserID.String())),
		send:      make(chan []byte, sendQueueSize),
		typing:    make(map[models.Target]struct{}),
	}
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Principal() auth.Principal { return c.principal }
func (c *Client) UserID() uuid.UUID         { return c.principal.UserID }

func (c *Client) WorkspaceID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspaceID
}

func (c *Client) SetWorkspaceID(id uuid.UUID) {
	c.mu.Lock()
	c.workspaceID = id
	c.mu.Unlock()
}

// SetTyping records the typing state for target and reports whether it
// changed.
func (c *Client) SetTyping(target models.Target, typing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, was := c.typing[target]
	if typing {
		c.typing[target] = struct{}{}
	} else {
		delete(c.typing, target)
	}
	return was != typing
}

// DrainTyping clears and returns every target the client was typing in.
func (c *Client) DrainTyping() []models.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Target, 0, len(c.typing))
	for t := range c.typing {
		out = append(out, t)
	}
	c.typing = make(map[models.Target]struct{})
	return out
}

// Send queues an encoded frame. A client whose queue is full is too slow
// to keep up and gets disconnected.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send queue full, dropping connection")
		c.closeLocked()
		return false
	}
}

func (c *Client) SendEvent(event string, data any) bool {
	frame, err := encode(event, data)
	if err != nil {
		c.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.Send(frame)
}

func (c *Client) SendAck(ack int64, data any) bool {
	frame, err := json.Marshal(Outbound{Event: EventAck, Ack: &ack, Data: data})
	if err != nil {
		c.logger.Error("encode ack", zap.Error(err))
		return false
	}
	return c.Send(frame)
}

func (c *Client) SendError(p ErrorPayload) bool {
	return c.SendEvent(EventError, p)
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads frames until the connection fails, handing each one to
// handle. Frames from one connection are handled in order.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, c *Client, raw []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		handle(ctx, c, raw)
	}
}

// WritePump is the only writer on the socket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
