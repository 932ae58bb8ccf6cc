package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"resource-chat/internal/models"

	"github.com/rs/zerolog"
)

// Submitter persists and fans out a message sent over a connection. It is
// responsible for reporting failures back to the submitter.
type Submitter interface {
	Submit(ctx context.Context, connID string, author *models.Author, sub models.Submission) (*models.Message, error)
}

// HistoryProvider returns recent messages of a room, oldest first.
type HistoryProvider interface {
	Recent(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
}

type GatewayOption func(*Gateway)

// WithHistoryOnJoin sends the last limit messages to a connection right
// after it joins a room.
func WithHistoryOnJoin(h HistoryProvider, limit int, timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.history = h
		g.historyLimit = limit
		if timeout > 0 {
			g.historyTimeout = timeout
		}
	}
}

// Gateway turns transport sessions into registry membership changes and
// message submissions. Identity is resolved before Accept is called.
type Gateway struct {
	registry  *Registry
	submitter Submitter
	opts      Options

	history        HistoryProvider
	historyLimit   int
	historyTimeout time.Duration

	log zerolog.Logger
}

func NewGateway(registry *Registry, submitter Submitter, opts Options, log zerolog.Logger, options ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:       registry,
		submitter:      submitter,
		opts:           opts,
		historyTimeout: 5 * time.Second,
		log:            log.With().Str("component", "gateway").Logger(),
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// Accept attaches a new connection for t and starts its pumps. A nil
// identity admits an anonymous observer that may join rooms but not send.
func (g *Gateway) Accept(t Transport, identity *models.Author) (*Connection, error) {
	c := newConnection(t, identity, g.opts, g.log)
	if err := g.registry.Attach(c); err != nil {
		_ = t.Close()
		return nil, err
	}
	c.log.Debug().Msg("connection accepted")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump(func() { g.disconnect(c) })
	}()
	go func() {
		defer wg.Done()
		g.process(c)
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()

	return c, nil
}

// process handles inbound events sequentially. Once the transport goes
// away, queued messages are still submitted but room changes are dropped.
func (g *Gateway) process(c *Connection) {
	defer c.closeSend()

	for ev := range c.inbound {
		if c.isClosing() && ev.Event != models.EventSendMessage {
			c.log.Debug().Str("event", ev.Event).Msg("dropped event after disconnect")
			continue
		}
		g.handle(c, ev)
	}
}

func (g *Gateway) handle(c *Connection, ev models.InboundEvent) {
	switch ev.Event {
	case models.EventJoinRoom:
		roomID, err := models.DecodeRoomID(ev.Data)
		if err != nil {
			c.sendError("invalid roomId")
			return
		}
		g.join(c, roomID)

	case models.EventLeaveRoom:
		roomID, err := models.DecodeRoomID(ev.Data)
		if err != nil {
			c.sendError("invalid roomId")
			return
		}
		size := g.registry.Leave(c.ID(), roomID)
		c.log.Debug().Str("room_id", roomID).Int("size", size).Msg("left room")

	case models.EventSendMessage:
		var sub models.Submission
		if err := json.Unmarshal(ev.Data, &sub); err != nil {
			c.sendError("invalid message payload")
			return
		}
		// Failures are reported to the client by the submitter.
		_, _ = g.submitter.Submit(context.Background(), c.ID(), c.Identity(), sub)

	default:
		c.log.Debug().Str("event", ev.Event).Msg("unknown event")
		c.sendError("unknown event: " + ev.Event)
	}
}

func (g *Gateway) join(c *Connection, roomID string) {
	size, err := g.registry.Join(c.ID(), roomID)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.sendError("roomId is required")
		}
		c.log.Debug().Err(err).Str("room_id", roomID).Msg("join failed")
		return
	}
	c.log.Debug().Str("room_id", roomID).Int("size", size).Msg("joined room")

	if g.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.historyTimeout)
	defer cancel()

	msgs, err := g.history.Recent(ctx, roomID, g.historyLimit)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to load room history")
		return
	}
	if err := g.registry.Send(c.ID(), models.EventRoomHistory, models.HistoryPayload{RoomID: roomID, Messages: msgs}); err != nil {
		c.log.Debug().Err(err).Msg("failed to send room history")
	}
}

func (g *Gateway) disconnect(c *Connection) {
	rooms := g.registry.Detach(c.ID())
	c.log.Debug().Strs("rooms", rooms).Msg("connection closed")
}
