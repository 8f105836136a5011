package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/chorus/internal/gateway"
	"github.com/lalith-99/chorus/internal/middleware"
	"github.com/lalith-99/chorus/internal/realtime"
	"go.uber.org/zap"
)

// WSHandler upgrades authenticated requests and hands the connection to
// the gateway. It sits behind AuthMiddleware, so an unauthenticated
// handshake is refused with 401 before any upgrade.
type WSHandler struct {
	root     context.Context
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler ties connections to root rather than to the request, whose
// context ends once the handler returns after hijacking. Cancelling root
// stops every read loop.
func NewWSHandler(root context.Context, gw *gateway.Gateway, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		root:    root,
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// Serve handles GET /v1/ws
func (h *WSHandler) Serve(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(conn, *p, h.logger)
	h.logger.Debug("client connected",
		zap.String("conn_id", client.ID()),
		zap.String("user_id", p.UserID.String()),
	)
	h.gateway.Serve(h.root, client)
}

// originChecker allows requests without an Origin header (non-browser
// clients), "*" for anything, or an exact scheme://host match.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}
