package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Stats counts cache activity since construction.
type Stats struct {
	Hits                 int64 `json:"hits"`
	Misses               int64 `json:"misses"`
	Invalidations        int64 `json:"invalidations"`
	InvalidationFailures int64 `json:"invalidation_failures"`
	ReadErrors           int64 `json:"read_errors"`
}

// keyState orders fills against invalidations of one key. A fill only
// stores its value if no invalidation happened since it started loading.
// It exists only while fills are in flight: a fill that starts later loads
// state committed before the invalidation.
type keyState struct {
	mu  sync.Mutex
	gen uint64

	fills int // changed only inside keys.Compute
}

// Cache is the read-through view cache and its invalidator.
// Safe for concurrent use.
type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
	keys    *xsync.Map[string, *keyState]

	hits, misses, invalidations, failures, readErrors atomic.Int64
}

// New creates a Cache over backend. Values expire after ttl.
func New(backend Backend, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		keys:    xsync.NewMap[string, *keyState](),
	}
}

// Invalidate removes every cache key derived from refs.
//
// It must run after the change to refs is committed and before any event
// about the change is deliverable. A backend failure is counted, logged and
// returned as a cache invalidation error; callers continue regardless.
func (c *Cache) Invalidate(ctx context.Context, refs []domain.EntityRef) error {
	keys := Keys(refs)
	if len(keys) == 0 {
		return nil
	}

	for _, k := range keys {
		if st, ok := c.keys.Load(k); ok {
			st.mu.Lock()
			st.gen++
			st.mu.Unlock()
		}
	}

	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.failures.Add(1)
		c.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
		return domain.NewCacheInvalidationError(keys, err)
	}
	c.invalidations.Add(int64(len(keys)))
	c.logger.Debug("cache invalidated", "keys", keys)
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:                 c.hits.Load(),
		Misses:               c.misses.Load(),
		Invalidations:        c.invalidations.Load(),
		InvalidationFailures: c.failures.Load(),
		ReadErrors:           c.readErrors.Load(),
	}
}

// beginFill registers a fill of key; endFill must follow.
func (c *Cache) beginFill(key string) *keyState {
	st, _ := c.keys.Compute(key, func(st *keyState, loaded bool) (*keyState, xsync.ComputeOp) {
		if !loaded {
			st = &keyState{}
		}
		st.fills++
		return st, xsync.UpdateOp
	})
	return st
}

func (c *Cache) endFill(key string) {
	c.keys.Compute(key, func(st *keyState, loaded bool) (*keyState, xsync.ComputeOp) {
		if st.fills--; st.fills == 0 {
			return nil, xsync.DeleteOp
		}
		return st, xsync.UpdateOp
	})
}

// ReadThrough returns the cached value under key, or calls load, caches its
// result and returns it. Backend errors degrade to calling load; they are
// never returned. Errors from load are returned and nothing is cached.
func ReadThrough[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.readErrors.Add(1)
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.hits.Add(1)
			return v, nil
		}
		c.readErrors.Add(1)
		c.logger.Warn("cache entry undecodable", "key", key)
	}
	c.misses.Add(1)

	st := c.beginFill(key)
	defer c.endFill(key)
	st.mu.Lock()
	gen := st.gen
	st.mu.Unlock()

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value unencodable", "key", key, "error", err)
		return v, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		// invalidated while loading; the value may predate the change
		return v, nil
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.readErrors.Add(1)
		c.logger.Warn("cache fill failed", "key", key, "error", err)
	}
	return v, nil
}
