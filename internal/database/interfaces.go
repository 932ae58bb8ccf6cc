package database

import (
	"context"

	"resource-chat/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// MessageStore is the persistence boundary for chat messages. Append assigns
// the id and timestamp. List returns records most-recent-first; before is an
// optional message id cursor, exclusive.
//
// Implementations wrap failures with models.ErrStorage, and with
// models.ErrValidation or models.ErrUnauthorized when the backend rejects
// the request for those reasons.
type MessageStore interface {
	Append(ctx context.Context, roomID string, draft models.Draft) (*models.Message, error)
	List(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error)
	Close() error
}

// ClampLimit maps a requested page size into [1, MaxListLimit]; zero or a
// negative value means the default.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
