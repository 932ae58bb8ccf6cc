package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(3, 10*time.Second)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		clock = clock.Add(time.Second)
	}

	res, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 7*time.Second, res.RetryAfter)

	other, err := l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clock = clock.Add(7 * time.Second)
	res, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterSweep(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, time.Second)
	l.now = func() time.Time { return clock }

	_, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)

	l.Sweep()
	assert.Len(t, l.history, 1)

	clock = clock.Add(2 * time.Second)
	l.Sweep()
	assert.Empty(t, l.history)
}
