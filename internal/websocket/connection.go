package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"resource-chat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport is the subset of *websocket.Conn a connection needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Options struct {
	ReadLimit     int64
	PingPeriod    time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	SendBuffer    int
	InboundBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:     32 << 10,
		PingPeriod:    54 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
		SendBuffer:    256,
		InboundBuffer: 64,
	}
}

// Connection is one live client socket. Frames read from the transport are
// queued on inbound and handled one at a time; outbound frames go through
// a bounded send queue drained by the write pump.
type Connection struct {
	id        string
	identity  *models.Author
	transport Transport
	opts      Options

	mu      sync.RWMutex
	send    chan []byte
	closed  bool
	inbound chan models.InboundEvent
	closing chan struct{}
	done    chan struct{}

	log zerolog.Logger
}

func newConnection(t Transport, identity *models.Author, opts Options, log zerolog.Logger) *Connection {
	id := uuid.NewString()
	l := log.With().Str("conn_id", id)
	if identity != nil {
		l = l.Str("user_id", identity.ID)
	}
	return &Connection{
		id:        id,
		identity:  identity,
		transport: t,
		opts:      opts,
		send:      make(chan []byte, opts.SendBuffer),
		inbound:   make(chan models.InboundEvent, opts.InboundBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		log:       l.Logger(),
	}
}

func (c *Connection) ID() string { return c.id }

// Identity is nil for anonymous observers.
func (c *Connection) Identity() *models.Author { return c.identity }

// Done is closed once every goroutine of the connection has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Connection) enqueue(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("%w: connection %s closed", models.ErrTransport, c.id)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: connection %s send buffer full", models.ErrTransport, c.id)
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) sendError(msg string) {
	frame, err := models.EncodeEvent(models.EventMessageError, models.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	if err := c.enqueue(frame); err != nil {
		c.log.Debug().Err(err).Msg("dropped error frame")
	}
}

// readPump decodes envelopes onto the inbound queue until the transport
// fails. onClose runs before the queue is closed.
func (c *Connection) readPump(onClose func()) {
	defer func() {
		close(c.closing)
		onClose()
		close(c.inbound)
		_ = c.transport.Close()
	}()

	// Set read limit, deadline and pong handler
	c.transport.SetReadLimit(c.opts.ReadLimit)
	_ = c.transport.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.transport.SetPongHandler(func(string) error {
		return c.transport.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		// Decode envelope
		var ev models.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
			c.log.Debug().Err(err).Int("bytes", len(data)).Msg("malformed frame")
			c.sendError("malformed frame")
			continue
		}
		c.inbound <- ev
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.transport.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.transport.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
