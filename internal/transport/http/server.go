package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/auth"
	"github.com/deskchat/deskchat-server/internal/config"
	"github.com/deskchat/deskchat-server/internal/relay"
	"github.com/deskchat/deskchat-server/internal/store"
)

// NewServer builds the HTTP server: REST API, websocket relay endpoint,
// health and metrics.
func NewServer(
	cfg config.Config,
	registry *relay.Registry,
	router *relay.Router,
	resolver relay.IdentityResolver,
	authService *auth.Service,
	st store.Store,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger), MetricsMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(st, logger)

	api := engine.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.POST("/verify", apiHandlers.VerifyEmail)

		chat := api.Group("/chat", AuthMiddleware(authService, logger))
		{
			chat.GET("/user/:id", chatHandlers.UserMessages)
			chat.GET("/all", chatHandlers.AllConversations)
			chat.POST("/send", chatHandlers.SendMessage)
		}
	}

	engine.GET("/ws/chats", NewWSHandler(registry, router, resolver, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
