package guard

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// ErrRetry may be returned by a mutation to discard its working copies and
// go around the retry loop again, for example when it observes state that
// no longer matches the entity set it was asked to lock.
var ErrRetry = errors.New("guard: retry")

// Store is the persistence the guard reads from and commits to.
// Implemented by *store.Store.
type Store interface {
	Load(ctx context.Context, refs []domain.EntityRef) (store.Snapshot, error)
	Commit(ctx context.Context, writes []store.Write) (bool, error)
}

// Stats counts guard outcomes since construction.
type Stats struct {
	Commits   int64 `json:"commits"`
	Conflicts int64 `json:"conflicts"`
	Retries   int64 `json:"retries"`
	Exhausted int64 `json:"exhausted"`
}

// Guard serializes and commits mutations. Safe for concurrent use.
type Guard struct {
	store  Store
	logger *slog.Logger

	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// locks holds an entry per entity key while some Do holds or waits
	// for it.
	locks *xsync.Map[string, *entityLock]

	commits   atomic.Int64
	conflicts atomic.Int64
	retries   atomic.Int64
	exhausted atomic.Int64
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger used for conflict diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// New creates a Guard over s with the retry policy from cfg.
func New(s Store, cfg config.Guard, opts ...Option) *Guard {
	g := &Guard{
		store:       s,
		logger:      slog.Default(),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		locks:       xsync.NewMap[string, *entityLock](),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Stats returns a snapshot of the counters.
func (g *Guard) Stats() Stats {
	return Stats{
		Commits:   g.commits.Load(),
		Conflicts: g.conflicts.Load(),
		Retries:   g.retries.Load(),
		Exhausted: g.exhausted.Load(),
	}
}

// Do runs fn against working copies of refs and commits the result.
//
// fn may run more than once and must not have side effects outside the
// Tx; effects that belong to the committed attempt go through Tx.OnCommit.
// Every entity in refs is written back with its version bumped, whether or
// not fn changed it, so reads inside fn are validated too. An error from
// fn other than ErrRetry aborts without writing and is returned as is.
//
// After maxRetries failed attempts beyond the first, Do returns a conflict
// error naming the entity keys.
func Do[T any](ctx context.Context, g *Guard, refs []domain.EntityRef, fn func(*Tx) (T, error)) (T, error) {
	var zero T

	refs = dedupe(refs)
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key()
	}

	unlock := g.lock(keys)
	defer unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		snap, err := g.store.Load(ctx, refs)
		if err != nil {
			return zero, err
		}
		tx := newTx(refs, snap)

		v, err := fn(tx)
		switch {
		case err == nil:
			ok, err := g.store.Commit(ctx, tx.writes())
			if err != nil {
				return zero, err
			}
			if ok {
				tx.committed()
				g.commits.Add(1)
				for _, f := range tx.after {
					f()
				}
				return v, nil
			}
		case errors.Is(err, ErrRetry):
		default:
			return zero, err
		}

		g.conflicts.Add(1)
		if attempt >= g.maxRetries {
			g.exhausted.Add(1)
			g.logger.Warn("guarded mutation gave up", "entities", keys, "attempts", attempt+1)
			return zero, domain.NewConflictError(attempt+1, keys...)
		}
		g.retries.Add(1)

		d := g.backoff(attempt)
		g.logger.Debug("version conflict, retrying", "entities", keys, "attempt", attempt+1, "backoff", d)
		if err := sleep(ctx, d); err != nil {
			return zero, err
		}
	}
}

// backoff returns base * 2^attempt, capped at maxBackoff.
func (g *Guard) backoff(attempt int) time.Duration {
	d := g.baseBackoff
	for i := 0; i < attempt && d < g.maxBackoff; i++ {
		d *= 2
	}
	if g.maxBackoff > 0 && d > g.maxBackoff {
		d = g.maxBackoff
	}
	return d
}

// entityLock is a per-entity mutex. refs counts holders and waiters and is
// only changed inside locks.Compute for its key.
type entityLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-entity mutexes for keys, which must be sorted.
// The returned func releases them and drops entries nobody else needs.
func (g *Guard) lock(keys []string) func() {
	held := make([]*entityLock, 0, len(keys))
	for _, k := range keys {
		l, _ := g.locks.Compute(k, func(l *entityLock, loaded bool) (*entityLock, xsync.ComputeOp) {
			if !loaded {
				l = &entityLock{}
			}
			l.refs++
			return l, xsync.UpdateOp
		})
		l.mu.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			g.locks.Compute(keys[i], func(l *entityLock, loaded bool) (*entityLock, xsync.ComputeOp) {
				if l.refs--; l.refs == 0 {
					return nil, xsync.DeleteOp
				}
				return l, xsync.UpdateOp
			})
		}
	}
}

// dedupe returns refs sorted by key with duplicates removed. Category is
// not part of identity.
func dedupe(refs []domain.EntityRef) []domain.EntityRef {
	out := slices.Clone(refs)
	slices.SortFunc(out, func(a, b domain.EntityRef) int {
		switch ka, kb := a.Key(), b.Key(); {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return slices.CompactFunc(out, func(a, b domain.EntityRef) bool {
		return a.Key() == b.Key()
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
