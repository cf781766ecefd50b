package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Lockout mirrors a server-imposed submission block on the client so the
// user sees a countdown instead of hammering the endpoint. The server stays
// authoritative.
type Lockout struct {
	mu    sync.Mutex
	until time.Time
}

// Lock blocks submissions for d from now.
func (l *Lockout) Lock(now time.Time, d time.Duration) {
	l.LockUntil(now.Add(d))
}

// LockUntil blocks submissions until t. A later deadline already in force wins.
func (l *Lockout) LockUntil(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.until) {
		l.until = t
	}
}

func (l *Lockout) Locked(now time.Time) bool {
	return l.Remaining(now) > 0
}

func (l *Lockout) Remaining(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := l.until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Seconds is the countdown shown to the user, rounded up.
func (l *Lockout) Seconds(now time.Time) int {
	return int(math.Ceil(l.Remaining(now).Seconds()))
}

func (l *Lockout) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.until = time.Time{}
}
