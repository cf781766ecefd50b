// Package store keeps the contract simulator's ephemeral state: single-use
// keys, windowed counters and the per-account mining records.
package store

import (
	"context"
	"sync"
	"time"
)

// Ledger tracks single-use keys and windowed counters. Memory serves a single
// process; Redis shares the ledger between simulator instances.
type Ledger interface {
	// UseOnce claims key for ttl and reports whether this call was the first.
	UseOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
	Count(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

type entry struct {
	count   int
	expires time.Time
}

// Memory is the in-process Ledger.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry), now: time.Now}
}

// live returns the entry for key unless it has expired. Caller holds mu.
func (m *Memory) live(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) UseOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.entries[key] = &entry{count: 1, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Hit(_ context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &entry{expires: m.now().Add(window)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (m *Memory) Count(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		return e.count, nil
	}
	return 0, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		return e.expires.Sub(m.now()), nil
	}
	return 0, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Prune drops expired entries and returns how many went.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for key, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}
