package server

import (
	"net/http"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/auth"
	"github.com/mhmdmarshoud34/Talkify/internal/config"
	"github.com/mhmdmarshoud34/Talkify/internal/metrics"
	"github.com/mhmdmarshoud34/Talkify/internal/mw"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"
	"github.com/mhmdmarshoud34/Talkify/internal/service"
	"github.com/mhmdmarshoud34/Talkify/internal/store"
	"github.com/mhmdmarshoud34/Talkify/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// presence 表与中继在这里组装并显式传给各组件，不走全局变量。
func SetupRouter(cfg config.Config, db *gorm.DB, pt *presence.Table) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	relay := ws.NewRelay(pt, store.New(db))

	userSvc := service.NewUserService(db, cfg)
	contactSvc := service.NewContactService(db)
	channelSvc := service.NewChannelService(db)
	msgSvc := service.NewMessageService(db)
	h := NewHandler(cfg, userSvc, contactSvc, channelSvc, msgSvc)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": pt.Online()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/auth/me", h.Me)
	authed.PUT("/profile", h.UpdateProfile)
	authed.POST("/profile/image", h.AddProfileImage)
	authed.DELETE("/profile/image", h.RemoveProfileImage)

	authed.GET("/contacts/search", h.SearchContacts)
	authed.GET("/contacts/all", h.AllContacts)
	authed.GET("/contacts/dm", h.DMContacts)

	authed.GET("/messages", h.DirectHistory)

	authed.POST("/channels", h.CreateChannel)
	authed.GET("/channels", h.ListChannels)
	authed.GET("/channels/:id/messages", h.ChannelMessages)

	r.GET("/ws", ws.Serve(pt, relay))

	r.Static("/uploads", cfg.UploadDir)

	return r
}
