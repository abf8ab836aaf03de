package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/cache"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/guard"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// Store is the read side of the persistent entity set plus creation.
// Implemented by *store.Store.
type Store interface {
	InsertItem(ctx context.Context, it domain.WaitingItem) (bool, error)
	InsertWorker(ctx context.Context, w domain.Worker) (bool, error)
	ReadItem(ctx context.Context, id string) (domain.WaitingItem, error)
	ReadWorker(ctx context.Context, id string) (domain.Worker, error)
	ReadWaitingItems(ctx context.Context, f store.ItemFilter) ([]domain.WaitingItem, error)
	ReadWorkers(ctx context.Context, f store.WorkerFilter) ([]domain.Worker, error)
	CountWaiting(ctx context.Context, category domain.Category) (int, error)
}

// Publisher accepts events for committed changes.
// Implemented by *events.Synchronizer.
type Publisher interface {
	Publish(ctx context.Context, d events.Draft) (events.Event, error)
}

// ErrUnchanged is returned by Rescore when the new score is within the
// requested minimum delta of the stored one. Nothing is committed.
var ErrUnchanged = errors.New("queue: score unchanged")

// errOwnerChanged means the item/worker pairing read before locking no
// longer holds; the mutation re-reads and locks the new pair.
var errOwnerChanged = errors.New("queue: owner changed")

const ownerAttempts = 3

// Result is the committed state of a mutation and the event it produced.
type Result struct {
	Item   *domain.WaitingItem
	Worker *domain.Worker
	Event  events.Event
}

// Service performs guarded mutations and serves cached views.
// Safe for concurrent use.
type Service struct {
	store     Store
	guard     *guard.Guard
	calc      *priority.Calculator
	publisher Publisher
	cache     *cache.Cache
	logger    *slog.Logger
	now       func() time.Time

	avgServiceMinutes int64
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves views through c. Without it every view reads the store.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNow sets the wall clock used for scoring and arrival stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAverageServiceMinutes sets the per-item service time used for wait
// estimates.
func WithAverageServiceMinutes(n int64) Option {
	return func(s *Service) { s.avgServiceMinutes = n }
}

// New creates a Service.
func New(st Store, g *guard.Guard, calc *priority.Calculator, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store:             st,
		guard:             g,
		calc:              calc,
		publisher:         pub,
		logger:            slog.Default(),
		now:               time.Now,
		avgServiceMinutes: config.Default().Scoring.AverageServiceMinutes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculator returns the priority calculator the service scores with.
func (s *Service) Calculator() *priority.Calculator { return s.calc }

// Store returns the underlying entity store.
func (s *Service) Store() Store { return s.store }

// mutate runs fn under the guard and publishes the draft it returns once
// the attempt commits. The draft's entities and payload snapshot are filled
// from the committed result.
func (s *Service) mutate(ctx context.Context, refs []domain.EntityRef, fn func(*guard.Tx) (Result, events.Draft, error)) (Result, error) {
	var published events.Event

	res, err := guard.Do(ctx, s.guard, refs, func(tx *guard.Tx) (Result, error) {
		res, draft, err := fn(tx)
		if err != nil {
			return Result{}, err
		}
		tx.OnCommit(func() {
			published = s.publish(ctx, res, draft)
		})
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Event = published
	return res, nil
}

// publish fills d from the committed result and hands it to the publisher.
// The change is already committed, so a rejected event is logged, not
// returned.
func (s *Service) publish(ctx context.Context, res Result, d events.Draft) events.Event {
	d.Entities = d.Entities[:0]
	if res.Item != nil {
		it := res.Item.Clone()
		d.Payload.Item = &it
		d.Entities = append(d.Entities, it.Ref())
	}
	if res.Worker != nil {
		w := res.Worker.Clone()
		d.Payload.Worker = &w
		d.Entities = append(d.Entities, w.Ref())
	}

	ev, err := s.publisher.Publish(ctx, d)
	if err != nil {
		s.logger.Error("committed change has no event", "type", d.Type, "entities", d.Entities, "error", err)
	}
	return ev
}

// withOwner reads the worker currently holding itemID and runs fn with it.
// fn returns errOwnerChanged when the pairing moved before the locks were
// taken; withOwner then reads again.
func (s *Service) withOwner(ctx context.Context, itemID string, to domain.Status, fn func(it domain.WaitingItem) (Result, error)) (Result, error) {
	for range ownerAttempts {
		it, err := s.store.ReadItem(ctx, itemID)
		if err != nil {
			return Result{}, err
		}
		if it.WorkerID == "" {
			return Result{}, domain.NewTransitionError(it.ID, it.Status, to)
		}
		res, err := fn(it)
		if !errors.Is(err, errOwnerChanged) {
			return res, err
		}
		s.logger.Debug("item changed hands before lock, re-reading", "item", itemID)
	}
	return Result{}, domain.NewConflictError(ownerAttempts, domain.ItemRef(itemID).Key())
}

// assignmentPriority delivers assignments of critical categories first.
func (s *Service) assignmentPriority(c domain.Category) events.Priority {
	if s.calc.Critical(c) {
		return events.PriorityCritical
	}
	return events.PriorityHigh
}
