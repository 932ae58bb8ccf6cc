package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects one event for key. An error means the limiter
// itself could not decide.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
	Close() error
}
