package websocket

import (
	"resource-chat/internal/models"

	"github.com/rs/zerolog"
)

// PresencePublisher broadcasts the room size to the room after every
// membership change. Empty rooms get nothing.
type PresencePublisher struct {
	registry *Registry
	log      zerolog.Logger
}

func NewPresencePublisher(registry *Registry, log zerolog.Logger) *PresencePublisher {
	p := &PresencePublisher{
		registry: registry,
		log:      log.With().Str("component", "presence").Logger(),
	}
	registry.Subscribe(p.MembershipChanged)
	return p
}

func (p *PresencePublisher) MembershipChanged(roomID string) {
	delivered := p.registry.BroadcastComputed(roomID, func(size int) (string, any, bool) {
		if size == 0 {
			return "", nil, false
		}
		return models.EventOnlineUsers, size, true
	})
	p.log.Debug().Str("room_id", roomID).Int("delivered", delivered).Msg("presence published")
}
