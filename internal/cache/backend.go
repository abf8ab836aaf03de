package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Backend stores opaque values by key.
type Backend interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with a time to live; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means never
}

// Memory is an in-process Backend. Safe for concurrent use.
type Memory struct {
	entries *xsync.Map[string, memoryEntry]
	now     func() time.Time
}

// NewMemory creates an empty in-process backend. now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: xsync.NewMap[string, memoryEntry](),
		now:     now,
	}
}

// Get implements Backend. Expired entries read as missing and are dropped.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.entries.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries.Store(key, e)
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.entries.Delete(k)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	return m.entries.Size()
}
