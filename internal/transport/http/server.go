package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/config"
	"github.com/vovakirdan/liquidchat-server/internal/core"
)

// NewServer builds the HTTP server: a health probe and the two WebSocket
// chat endpoints.
func NewServer(gw *Gateway, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/healthz", healthHandler)
	engine.GET("/ws/chat/global", gw.Handler(core.ScopeGlobal))
	engine.GET("/ws/chat/private", gw.Handler(core.ScopePrivate))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
