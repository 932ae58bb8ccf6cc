package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Mode string
}

func SetupRouter(cfg RouterConfig, ws *WebSocketHandlers, rooms *RoomHandlers, log zerolog.Logger) *gin.Engine {
	if cfg.Mode == gin.ReleaseMode || cfg.Mode == "" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))

	r.GET("/ws", ws.HandleWebSocket)
	r.GET("/healthz", rooms.Health)

	res := r.Group("/resources/:roomId")
	res.GET("/messages", rooms.ListMessages)
	res.POST("/messages", rooms.PostMessage)
	res.GET("/presence", rooms.Presence)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}

func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
