package server

import (
	"context"
	"net/http"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/config"
	"groupchat/internal/metrics"
	"groupchat/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pinger 报告下游存储是否可用，供 /healthz 使用。
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Authorizer *auth.Authorizer
	Handler    *Handler
	WS         gin.HandlerFunc
	Health     Pinger
	// Limiter 为 nil 时不限速。
	Limiter *mw.Limiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", healthz(d.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", d.WS)

	h := d.Handler
	api := r.Group("/api")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/invites/:code", h.LookupInvite)

	// 需要登录的业务接口，与 WebSocket 握手共用同一套会话策略。
	authed := api.Group("")
	authed.Use(auth.Middleware(d.Authorizer))

	authed.GET("/account", h.Account)
	authed.PATCH("/account", h.UpdateAccount)
	authed.POST("/account/sessions/revoke", h.RevokeSessions)
	authed.GET("/users/:id", h.UserProfile)

	authed.GET("/channels", h.ListChannels)
	authed.GET("/channels/all", h.ListAllRooms)
	authed.POST("/channels", h.CreateChannel)
	authed.GET("/channels/:id", h.GetChannel)
	authed.PATCH("/channels/:id", h.RenameChannel)
	authed.DELETE("/channels/:id", h.DeleteChannel)
	authed.POST("/channels/:id/leave", h.LeaveChannel)
	authed.POST("/channels/:id/messages", h.sendMessage(false))
	authed.PATCH("/channels/:id/messages/:messageId", h.EditMessage)
	authed.DELETE("/channels/:id/messages/:messageId", h.DeleteMessage)
	authed.GET("/channels/:id/invites", h.ListInvites)
	authed.POST("/channels/:id/invites", h.CreateInvite)

	authed.POST("/invites/:code/accept", h.AcceptInvite)
	authed.DELETE("/invites/:code", h.DeleteInvite)

	authed.GET("/dms", h.ListDMs)
	authed.POST("/dms", h.OpenDM)
	authed.GET("/dms/:id", h.GetDM)
	authed.POST("/dms/:id/messages", h.sendMessage(true))
	authed.PATCH("/dms/:id/messages/:messageId", h.EditMessage)
	authed.DELETE("/dms/:id/messages/:messageId", h.DeleteMessage)

	return r
}

func healthz(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("healthz")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
