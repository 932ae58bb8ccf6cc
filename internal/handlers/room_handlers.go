package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"resource-chat/internal/models"
	"resource-chat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type MessagePublisher interface {
	Publish(ctx context.Context, author models.Author, sub models.Submission) (*models.Message, error)
}

type HistoryReader interface {
	Page(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error)
}

type RoomReader interface {
	Presence(roomID string) services.RoomPresence
	ActiveRooms() map[string]int
}

type RoomHandlers struct {
	identity  IdentityResolver
	publisher MessagePublisher
	history   HistoryReader
	rooms     RoomReader
	log       zerolog.Logger
}

func NewRoomHandlers(identity IdentityResolver, publisher MessagePublisher, history HistoryReader, rooms RoomReader, log zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		identity:  identity,
		publisher: publisher,
		history:   history,
		rooms:     rooms,
		log:       log.With().Str("component", "room_handler").Logger(),
	}
}

// postMessageRequest is a sendMessage payload without the room, which comes
// from the path.
type postMessageRequest struct {
	Content  string             `json:"content"`
	Type     models.MessageType `json:"type"`
	FileMeta *models.FileMeta   `json:"fileMeta,omitempty"`
}

func (h *RoomHandlers) PostMessage(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	author, err := h.identity.Resolve(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.publisher.Publish(c.Request.Context(), *author, models.Submission{
		RoomID:   c.Param("roomId"),
		Content:  req.Content,
		Type:     req.Type,
		FileMeta: req.FileMeta,
	})
	if err != nil {
		h.writeError(c, err, "failed to save message")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *RoomHandlers) ListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.history.Page(c.Request.Context(), c.Param("roomId"), limit, c.Query("before"))
	if err != nil {
		h.writeError(c, err, "failed to load messages")
		return
	}

	c.JSON(http.StatusOK, msgs)
}

func (h *RoomHandlers) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.rooms.Presence(c.Param("roomId")))
}

func (h *RoomHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  h.rooms.ActiveRooms(),
	})
}

// writeError maps error classes to status codes. Backend failures answer
// with fallback rather than the wrapped cause.
func (h *RoomHandlers) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusBadGateway
	msg := services.ErrorMessage(err)
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrRateLimited):
		status = http.StatusTooManyRequests
	default:
		msg = fallback
		h.log.Error().Err(err).Str("path", c.FullPath()).Str("room_id", c.Param("roomId")).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": msg})
}
