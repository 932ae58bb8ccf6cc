package services

import (
	"context"
	"fmt"
	"strings"

	"resource-chat/internal/database"
	"resource-chat/internal/models"
)

// History reads room messages for display, oldest first.
type History struct {
	store database.MessageStore
}

func NewHistory(store database.MessageStore) *History {
	return &History{store: store}
}

func (h *History) Recent(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	return h.Page(ctx, roomID, limit, "")
}

// Page returns up to limit messages older than before, in chronological
// order.
func (h *History) Page(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("%w: roomId is required", models.ErrValidation)
	}

	messages, err := h.store.List(ctx, roomID, database.ClampLimit(limit), strings.TrimSpace(before))
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
