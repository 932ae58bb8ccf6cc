package database

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"resource-chat/internal/models"
)

// MemoryStore keeps messages in process. Ids are a single increasing
// sequence shared by all rooms, so the id order is the commit order.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    int64
	rooms  map[string][]*models.Message
	now    func() time.Time
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string][]*models.Message),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: store closed", models.ErrStorage)
	}

	s.seq++
	msg := &models.Message{
		ID:        strconv.FormatInt(s.seq, 10),
		RoomID:    roomID,
		Author:    d.Author,
		Content:   d.Content,
		Type:      d.Type,
		CreatedAt: s.now().UTC(),
	}
	if d.FileMeta != nil {
		fm := *d.FileMeta
		msg.FileMeta = &fm
	}
	s.rooms[roomID] = append(s.rooms[roomID], msg)

	out := *msg
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	var cursor int64
	hasCursor := before != ""
	if hasCursor {
		c, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cursor %q", models.ErrValidation, before)
		}
		cursor = c
	}
	limit = ClampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	out := make([]*models.Message, 0, min(limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if hasCursor {
			id, _ := strconv.ParseInt(msgs[i].ID, 10, 64)
			if id >= cursor {
				continue
			}
		}
		m := *msgs[i]
		out = append(out, &m)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
