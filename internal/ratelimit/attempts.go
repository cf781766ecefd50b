package ratelimit

import (
	"context"
	"time"
)

// Counter is a windowed hit counter shared across server instances.
type Counter interface {
	// Hit increments key and starts its window on the first hit.
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
	Count(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// Attempts caps failed second-factor submissions per account. Once Max
// failures land inside Window the account is locked until the window ends.
type Attempts struct {
	Counter Counter
	Max     int
	Window  time.Duration
}

// Blocked reports how long key remains locked, or zero.
func (a *Attempts) Blocked(ctx context.Context, key string) (time.Duration, error) {
	n, err := a.Counter.Count(ctx, a.key(key))
	if err != nil || n < a.Max {
		return 0, err
	}
	return a.Counter.TTL(ctx, a.key(key))
}

// Fail records one failure and returns the attempts left before lockout.
func (a *Attempts) Fail(ctx context.Context, key string) (int, error) {
	n, err := a.Counter.Hit(ctx, a.key(key), a.Window)
	if err != nil {
		return 0, err
	}
	if left := a.Max - n; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Succeed clears the failure history of key.
func (a *Attempts) Succeed(ctx context.Context, key string) error {
	return a.Counter.Reset(ctx, a.key(key))
}

func (a *Attempts) key(k string) string {
	return "attempts:" + k
}
