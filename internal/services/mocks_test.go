package services

import (
	"context"
	"sync"

	"resource-chat/internal/models"
	"resource-chat/internal/ratelimit"

	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Append(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
	args := m.Called(ctx, roomID, d)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *MockMessageStore) List(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error) {
	args := m.Called(ctx, roomID, limit, before)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *MockMessageStore) Close() error {
	return m.Called().Error(0)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key string) (*ratelimit.Result, error) {
	args := m.Called(ctx, key)
	res, _ := args.Get(0).(*ratelimit.Result)
	return res, args.Error(1)
}

func (m *MockLimiter) Close() error {
	return m.Called().Error(0)
}

type sent struct {
	Target  string
	Event   string
	Payload any
}

// recordingBroadcaster captures fan-out calls in order.
type recordingBroadcaster struct {
	mu         sync.Mutex
	broadcasts []sent
	sends      []sent
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{}
}

func (b *recordingBroadcaster) Broadcast(roomID, event string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, sent{Target: roomID, Event: event, Payload: payload})
	return 1
}

func (b *recordingBroadcaster) Send(connID, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, sent{Target: connID, Event: event, Payload: payload})
	return nil
}

func (b *recordingBroadcaster) Broadcasts() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.broadcasts...)
}

func (b *recordingBroadcaster) Sends() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.sends...)
}
