package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkravets/dialog-server/internal/config"
)

// NewServer builds the HTTP server with the REST and websocket routes.
func NewServer(cfg config.Config, api *APIHandlers, ws *WSHandler, creds CredentialResolver, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws/chat/:id", ws.Serve)

	apiGroup := router.Group("/api")
	apiGroup.POST("/register", api.Register)
	apiGroup.POST("/login", api.Login)

	protected := apiGroup.Group("")
	protected.Use(AuthMiddleware(creds, logger))
	protected.GET("/users", api.ListUsers)
	protected.GET("/conversations", api.ListConversations)
	protected.GET("/conversations/:id", api.GetOrCreateConversation)
	protected.POST("/conversations/:id", api.GetOrCreateConversation)
	protected.GET("/conversations/:id/messages", api.ListMessages)
	protected.DELETE("/messages/:id", api.DeleteMessage)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
