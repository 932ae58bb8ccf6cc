package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"resource-chat/internal/database"
	"resource-chat/internal/models"
	"resource-chat/internal/services"
	ws "resource-chat/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process socket: the test writes client frames to
// in and reads server frames from out.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errors.New("use of closed connection")
	}
}

func (f *fakeTransport) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeTransport) SetReadLimit(int64)                        {}
func (f *fakeTransport) SetPongHandler(func(appData string) error) {}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type client struct {
	t    *testing.T
	tr   *fakeTransport
	conn *ws.Connection
}

func (c *client) emit(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	frame, err := json.Marshal(models.InboundEvent{Event: event, Data: raw})
	require.NoError(c.t, err)
	c.tr.in <- frame
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *client) next() received {
	c.t.Helper()
	select {
	case b := <-c.tr.out:
		var r received
		require.NoError(c.t, json.Unmarshal(b, &r))
		return r
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for a frame")
	}
	return received{}
}

func (c *client) expect(event string) received {
	c.t.Helper()
	r := c.next()
	require.Equal(c.t, event, r.Event, "payload: %s", string(r.Data))
	return r
}

func (c *client) expectOnline(n int) {
	c.t.Helper()
	r := c.expect(models.EventOnlineUsers)
	assert.JSONEq(c.t, jsonInt(n), string(r.Data))
}

func (c *client) expectSilence(d time.Duration) {
	c.t.Helper()
	select {
	case b := <-c.tr.out:
		c.t.Fatalf("unexpected frame: %s", string(b))
	case <-time.After(d):
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// stubStore assigns fixed ids, or delegates to appendFn when set.
type stubStore struct {
	*database.MemoryStore
	appendFn func(ctx context.Context, roomID string, d models.Draft) (*models.Message, error)
}

func (s *stubStore) Append(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
	if s.appendFn != nil {
		return s.appendFn(ctx, roomID, d)
	}
	return s.MemoryStore.Append(ctx, roomID, d)
}

type harness struct {
	t        *testing.T
	registry *ws.Registry
	gateway  *ws.Gateway
	store    *stubStore
}

func newHarness(t *testing.T, timeout time.Duration, options ...ws.GatewayOption) *harness {
	t.Helper()
	log := zerolog.Nop()
	store := &stubStore{MemoryStore: database.NewMemoryStore()}
	registry := ws.NewRegistry(log)
	ws.NewPresencePublisher(registry, log)
	dispatcher := services.NewDispatcher(store, registry, nil, services.DispatcherConfig{
		PersistTimeout:   timeout,
		MaxContentLength: 4000,
	}, log)

	opts := ws.DefaultOptions()
	opts.PingPeriod = time.Hour
	opts.PongWait = 2 * time.Hour

	h := &harness{
		t:        t,
		registry: registry,
		gateway:  ws.NewGateway(registry, dispatcher, opts, log, options...),
		store:    store,
	}
	t.Cleanup(registry.Shutdown)
	return h
}

func (h *harness) connect(identity *models.Author) *client {
	h.t.Helper()
	tr := newFakeTransport()
	conn, err := h.gateway.Accept(tr, identity)
	require.NoError(h.t, err)
	return &client{t: h.t, tr: tr, conn: conn}
}

func (c *client) disconnect() {
	c.t.Helper()
	_ = c.tr.Close()
	select {
	case <-c.conn.Done():
	case <-time.After(2 * time.Second):
		c.t.Fatal("connection did not shut down")
	}
}

var (
	ada   = &models.Author{ID: "u-ada", Name: "Ada"}
	grace = &models.Author{ID: "u-grace", Name: "Grace"}
)

func TestGatewayScenarios(t *testing.T) {
	h := newHarness(t, time.Second)
	c1 := h.connect(ada)
	c2 := h.connect(grace)

	// join fan-out
	c1.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(1)

	c2.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(2)
	c2.expectOnline(2)

	// persisted message reaches every member
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.store.appendFn = func(_ context.Context, roomID string, d models.Draft) (*models.Message, error) {
		return &models.Message{ID: "42", RoomID: roomID, Author: d.Author, Content: d.Content, Type: d.Type, CreatedAt: created}, nil
	}
	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "hello", Type: models.MessageTypeText})
	for _, c := range []*client{c1, c2} {
		r := c.expect(models.EventNewMessage)
		var msg models.Message
		require.NoError(t, json.Unmarshal(r.Data, &msg))
		assert.Equal(t, "42", msg.ID)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "u-ada", msg.Author.ID)
		assert.Equal(t, created, msg.CreatedAt)
	}

	// disconnect recomputes presence for the remaining member
	c2.disconnect()
	c1.expectOnline(1)
	assert.Equal(t, 1, h.registry.Size("r1"))
	assert.Nil(t, h.registry.RoomsOf(c2.conn.ID()))
}

func TestGatewayPersistTimeoutReportsOnlyToSubmitter(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	h.store.appendFn = func(context.Context, string, models.Draft) (*models.Message, error) {
		<-release
		return &models.Message{ID: "late"}, nil
	}

	c1 := h.connect(ada)
	c2 := h.connect(grace)
	c1.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(1)
	c2.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(2)
	c2.expectOnline(2)

	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "lost"})
	r := c1.expect(models.EventMessageError)
	assert.JSONEq(t, `{"error":"failed to save message"}`, string(r.Data))
	c2.expectSilence(150 * time.Millisecond)
}

func TestGatewayQueuedMessagesSurviveDisconnect(t *testing.T) {
	h := newHarness(t, time.Second)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h.store.appendFn = func(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return h.store.MemoryStore.Append(ctx, roomID, d)
	}

	c1 := h.connect(ada)
	c2 := h.connect(grace)
	c1.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(1)
	c2.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(2)
	c2.expectOnline(2)

	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "A"})
	<-started
	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "B"})
	require.Eventually(t, func() bool { return len(c1.tr.in) == 0 }, time.Second, 5*time.Millisecond)

	// B is read and queued while A is still being persisted
	_ = c1.tr.Close()
	c2.expectOnline(1)
	close(release)

	for _, want := range []string{"A", "B"} {
		r := c2.expect(models.EventNewMessage)
		var msg models.Message
		require.NoError(t, json.Unmarshal(r.Data, &msg))
		assert.Equal(t, want, msg.Content)
		assert.Equal(t, ada.ID, msg.Author.ID)
	}

	select {
	case <-c1.conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not shut down")
	}
}

func TestGatewayNumericRoomID(t *testing.T) {
	h := newHarness(t, time.Second)
	c := h.connect(ada)

	c.emit(models.EventJoinRoom, 7)
	c.expectOnline(1)

	c.emit(models.EventSendMessage, map[string]any{"roomId": 7, "content": "hi"})
	r := c.expect(models.EventNewMessage)
	var msg models.Message
	require.NoError(t, json.Unmarshal(r.Data, &msg))
	assert.Equal(t, "7", msg.RoomID)
	assert.Equal(t, "hi", msg.Content)
}

func TestGatewayAnonymousObserver(t *testing.T) {
	h := newHarness(t, time.Second)
	member := h.connect(ada)
	observer := h.connect(nil)

	member.emit(models.EventJoinRoom, "r1")
	member.expectOnline(1)
	observer.emit(models.EventJoinRoom, "r1")
	member.expectOnline(2)
	observer.expectOnline(2)

	observer.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "hi"})
	r := observer.expect(models.EventMessageError)
	assert.JSONEq(t, `{"error":"unauthorized"}`, string(r.Data))

	member.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "welcome"})
	member.expect(models.EventNewMessage)
	observer.expect(models.EventNewMessage)
}

func TestGatewayBadFrames(t *testing.T) {
	h := newHarness(t, time.Second)
	c := h.connect(ada)

	c.tr.in <- []byte(`not json`)
	c.expect(models.EventMessageError)

	c.emit("dance", nil)
	r := c.expect(models.EventMessageError)
	assert.JSONEq(t, `{"error":"unknown event: dance"}`, string(r.Data))

	c.emit(models.EventJoinRoom, "")
	r = c.expect(models.EventMessageError)
	assert.JSONEq(t, `{"error":"roomId is required"}`, string(r.Data))

	c.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "   "})
	r = c.expect(models.EventMessageError)
	assert.Contains(t, string(r.Data), "content is required")

	// the connection survives all of the above
	c.emit(models.EventJoinRoom, map[string]any{"roomId": 7})
	c.expectOnline(1)
	assert.Equal(t, []string{"7"}, h.registry.RoomsOf(c.conn.ID()))
}

func TestGatewayLeaveRoom(t *testing.T) {
	h := newHarness(t, time.Second)
	c1 := h.connect(ada)
	c2 := h.connect(grace)

	c1.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(1)
	c2.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(2)
	c2.expectOnline(2)

	c2.emit(models.EventLeaveRoom, "r1")
	c1.expectOnline(1)

	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "still here?"})
	c1.expect(models.EventNewMessage)
	c2.expectSilence(100 * time.Millisecond)
}

func TestGatewayRoomsAreIsolated(t *testing.T) {
	h := newHarness(t, time.Second)
	c1 := h.connect(ada)
	c2 := h.connect(grace)

	c1.emit(models.EventJoinRoom, "r1")
	c1.expectOnline(1)
	c2.emit(models.EventJoinRoom, "r2")
	c2.expectOnline(1)

	c1.emit(models.EventSendMessage, models.Submission{RoomID: "r1", Content: "only r1"})
	c1.expect(models.EventNewMessage)
	c2.expectSilence(100 * time.Millisecond)
}

func TestGatewayHistoryOnJoin(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()
	for _, content := range []string{"first", "second", "third"} {
		_, err := store.Append(ctx, "r1", models.Draft{Author: *grace, Content: content, Type: models.MessageTypeText})
		require.NoError(t, err)
	}

	h := newHarness(t, time.Second, ws.WithHistoryOnJoin(services.NewHistory(store), 2, time.Second))
	c := h.connect(ada)

	c.emit(models.EventJoinRoom, "r1")
	c.expectOnline(1)
	r := c.expect(models.EventRoomHistory)

	var payload models.HistoryPayload
	require.NoError(t, json.Unmarshal(r.Data, &payload))
	assert.Equal(t, "r1", payload.RoomID)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "second", payload.Messages[0].Content)
	assert.Equal(t, "third", payload.Messages[1].Content)
}

func TestGatewayShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, time.Second)
	c := h.connect(ada)
	c.emit(models.EventJoinRoom, "r1")
	c.expectOnline(1)

	h.registry.Shutdown()

	select {
	case <-c.conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection survived shutdown")
	}
	assert.Equal(t, 0, h.registry.Size("r1"))

	_, err := h.gateway.Accept(newFakeTransport(), ada)
	assert.ErrorIs(t, err, ws.ErrRegistryClosed)
}
