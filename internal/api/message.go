package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/middleware"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/lalith-99/chorus/internal/service"
	"go.uber.org/zap"
)

// MessageHandler exposes history over REST. Sending goes through the
// websocket so that every message is sequenced and broadcast in one place.
type MessageHandler struct {
	messages *service.MessageService
	logger   *zap.Logger
}

func NewMessageHandler(messages *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, logger: logger}
}

// List handles GET /v1/channels/:id/messages?before=123&limit=50
//
// Cursor-based pagination, same as message:getOlder:
//   - "before" = sequence number, exclusive. 0 or absent = latest.
//   - "limit"  = page size. Default 50, capped at 100.
func (h *MessageHandler) List(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel ID"})
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	var limit int
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
	}

	p := middleware.GetPrincipal(c)
	page, err := h.messages.GetOlder(c.Request.Context(), *p, models.ChannelTarget(channelID), before, limit)
	if err != nil {
		respondError(c, h.logger, "list messages", err)
		return
	}

	c.JSON(http.StatusOK, page)
}
