package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-auth-service/internal/client"
)

// memKV is an in-memory KV fake with real TTL expiry, standing in for
// the Redis client.
type memKV struct {
	mu    sync.Mutex
	data  map[string]memEntry
	clock func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func newMemKV() *memKV {
	return &memKV{
		data:  make(map[string]memEntry),
		clock: time.Now,
	}
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	if !entry.expiresAt.IsZero() && m.clock().After(entry.expiresAt) {
		delete(m.data, key)
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	return entry.value, nil
}

func (m *memKV) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return -2 * time.Second, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return entry.expiresAt.Sub(m.clock()), nil
}

// advance shifts the fake clock forward, expiring entries naturally.
func (m *memKV) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.clock
	now := base().Add(d)
	m.clock = func() time.Time { return now }
}
