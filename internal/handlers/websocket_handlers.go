package handlers

import (
	"net/http"
	"strings"

	"resource-chat/internal/models"
	ws "resource-chat/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type IdentityResolver interface {
	Resolve(token string) (*models.Author, error)
}

type Acceptor interface {
	Accept(t ws.Transport, identity *models.Author) (*ws.Connection, error)
}

type WebSocketHandlers struct {
	identity IdentityResolver
	gateway  Acceptor
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWebSocketHandlers(identity IdentityResolver, gateway Acceptor, log zerolog.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		identity: identity,
		gateway:  gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The host application serves the frontend from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket upgrades the request. Without a token the connection is an
// anonymous observer; a token that does not verify is rejected before the
// upgrade.
func (h *WebSocketHandlers) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.Request)
	}

	var identity *models.Author
	if token != "" {
		author, err := h.identity.Resolve(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		identity = author
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	// Accept closes the socket itself when it refuses the connection.
	if _, err := h.gateway.Accept(conn, identity); err != nil {
		h.log.Warn().Err(err).Msg("connection rejected")
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
