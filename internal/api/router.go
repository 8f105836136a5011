package api

import (
	"context"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/gateway"
	"github.com/lalith-99/chorus/internal/middleware"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/service"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Root           context.Context
	Authenticator  auth.Authenticator
	Store          *repository.Store
	Services       *service.Services
	Gateway        *gateway.Gateway
	HealthChecks   map[string]Pinger
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter registers every HTTP route. /v1/health is public; everything
// else under /v1, the websocket included, requires a valid token.
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))

	health := NewHealthHandler(d.HealthChecks)
	r.GET("/v1/health", health.Health)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.Authenticator, d.Logger))

	ws := NewWSHandler(d.Root, d.Gateway, d.AllowedOrigins, d.Logger)
	v1.GET("/ws", ws.Serve)

	users := NewUserHandler(d.Store.Users, d.Logger)
	v1.GET("/users/me", users.GetMe)

	channels := NewChannelHandler(d.Store, d.Services.Access, d.Logger)
	members := NewMembershipHandler(d.Store, d.Services.Access, d.Services.WorkspaceUnread, d.Logger)
	messages := NewMessageHandler(d.Services.Messages, d.Logger)
	v1.GET("/channels", channels.List)
	v1.GET("/channels/:id", channels.GetByID)
	v1.POST("/channels/:id/join", members.Join)
	v1.POST("/channels/:id/leave", members.Leave)
	v1.GET("/channels/:id/members", members.ListMembers)
	v1.GET("/channels/:id/messages", messages.List)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	if len(origins) == 0 {
		// cors refuses a config that allows nothing; spell it out.
		cfg.AllowOriginFunc = func(string) bool { return false }
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
