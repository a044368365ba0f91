package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatsync/internal/infra/obs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	Upload(c *gin.Context)
}

type Options struct {
	Env      string
	Addr     string
	BasePath string
}

type Handlers struct {
	Chat           ChatHTTP
	AuthMiddleware gin.HandlerFunc
	Metrics        http.Handler
}

func NewRouter(opts Options, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(opts.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", obs.HeaderRequestID},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			obs.HeaderRequestID,
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := router.Group(normalizeBasePath(opts.BasePath))
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListConversations)
		api.GET("/messages", h.Chat.ListMessages)
		api.POST("/messages", h.Chat.SendMessage)
		api.PUT("/messages/:id/read", h.Chat.MarkRead)
		api.POST("/upload/:conversationId", h.Chat.Upload)
	}
	return router
}

func NewServer(opts Options, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func normalizeBasePath(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return "/"
	}
	return "/" + base
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
