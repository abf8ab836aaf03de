package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

var (
	// ErrResync tells a subscriber it lost events and must replay.
	ErrResync = errors.New("events: subscriber must resync")

	// ErrClosed is returned by reads on a closed subscription.
	ErrClosed = errors.New("events: subscription closed")

	// ErrReplayGap means the requested position is older than anything
	// retained. The subscriber must rebuild from a base snapshot.
	ErrReplayGap = errors.New("events: replay position no longer retained")
)

// Invalidator evicts cached views derived from entities.
// Implemented by *cache.Cache.
type Invalidator interface {
	Invalidate(ctx context.Context, refs []domain.EntityRef) error
}

// Journal durably records published events and issues their sequence
// numbers. Implemented by *store.Store.
type Journal interface {
	AppendNextEvent(ctx context.Context, build func(seq int64) (store.EventRecord, error)) (store.EventRecord, error)
	ReadEventsAfter(ctx context.Context, after int64, limit int) ([]store.EventRecord, error)
	MaxEventSeq(ctx context.Context) (int64, error)
}

// IDGenerator produces event identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 event IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Stats counts synchronizer activity since construction.
type Stats struct {
	Published            int64 `json:"published"`
	Delivered            int64 `json:"delivered"`
	Coalesced            int64 `json:"coalesced"`
	Redelivered          int64 `json:"redelivered"`
	Undeliverable        int64 `json:"undeliverable"`
	Dropped              int64 `json:"dropped"`
	Resyncs              int64 `json:"resyncs"`
	JournalFailures      int64 `json:"journal_failures"`
	Followed             int64 `json:"followed"`
	InvalidationFailures int64 `json:"invalidation_failures"`
	Subscribers          int   `json:"subscribers"`
	Retained             int   `json:"retained"`
	LastSeq              int64 `json:"last_seq"`
}

// Synchronizer sequences, retains and delivers events.
// Safe for concurrent use.
type Synchronizer struct {
	cfg         config.Events
	logger      *slog.Logger
	now         func() time.Time
	ids         IDGenerator
	invalidator Invalidator
	journal     Journal

	mu     sync.Mutex
	seq    *Sequencer
	log    *ringLog
	subs   map[string]*Subscription
	acks   map[string]*ackTracker
	nextID int

	published, delivered, coalesced, redelivered atomic.Int64
	undeliverable, dropped, resyncs              atomic.Int64
	journalFailures, invalidationFailures        atomic.Int64
	followed                                     atomic.Int64
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithNow sets the wall clock used for timestamps, coalescing and
// acknowledgment deadlines.
func WithNow(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithIDGenerator sets the event ID generator (default UUIDv7).
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Synchronizer) { s.ids = g }
}

// WithInvalidator runs inv on every event's entities before the event
// becomes deliverable.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Synchronizer) { s.invalidator = inv }
}

// WithJournal records every event in j and resumes sequencing from it.
func WithJournal(j Journal) Option {
	return func(s *Synchronizer) { s.journal = j }
}

// New creates a Synchronizer. With a journal, sequence numbers continue
// after the highest journaled one and the most recent events are loaded
// into the retention log so replay works across restarts.
func New(ctx context.Context, cfg config.Events, opts ...Option) (*Synchronizer, error) {
	s := &Synchronizer{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		ids:    UUIDv7Generator{},
		seq:    NewSequencer(),
		log:    newRingLog(cfg.RetentionSize),
		subs:   make(map[string]*Subscription),
		acks:   make(map[string]*ackTracker),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.journal != nil {
		last, err := s.journal.MaxEventSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume sequence: %w", err)
		}
		s.seq = NewSequencerAt(last)

		from := max(last-int64(s.log.capacity), 0)
		recs, err := s.journal.ReadEventsAfter(ctx, from, 0)
		if err != nil {
			return nil, fmt.Errorf("load retained events: %w", err)
		}
		for _, rec := range recs {
			ev, err := DecodeRecord(rec)
			if err != nil {
				return nil, err
			}
			s.log.append(ev)
		}
		if last > 0 {
			s.logger.Info("resumed event sequence", "last_seq", last, "retained", s.log.len())
		}
	}
	return s, nil
}

// Publish assigns the next sequence number to d, retains and journals the
// event and queues it for every subscriber. Cached views of d.Entities are
// invalidated first. Publish never waits for delivery.
//
// With a journal, the number is the journal's next free one, so every
// process sharing the store draws from one gapless sequence. Events other
// processes journaled since the last local one are admitted first. The
// append runs under the synchronizer lock, so subscribers' Next and Ack
// wait on the disk write; the lock is what keeps local delivery in
// sequence order.
func (s *Synchronizer) Publish(ctx context.Context, d Draft) (Event, error) {
	if d.Type == "" {
		return Event{}, fmt.Errorf("publish: event type required")
	}
	if len(d.Entities) == 0 {
		return Event{}, fmt.Errorf("publish %s: no affected entities", d.Type)
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, d.Entities); err != nil {
			s.invalidationFailures.Add(1)
			s.logger.Warn("publishing with stale cached views", "type", d.Type, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		ID:          s.ids.Generate(),
		Type:        d.Type,
		Priority:    d.Priority,
		Entities:    slices.Clone(d.Entities),
		Payload:     d.Payload,
		CreatedAt:   s.now(),
		RequiresAck: d.RequiresAck,
	}
	s.assign(ctx, &ev)
	s.admit(ev)

	s.published.Add(1)
	s.logger.Debug("event published", "seq", ev.Seq, "type", ev.Type, "priority", ev.Priority)
	return ev, nil
}

// assign sets ev.Seq, journaling ev when a journal is configured.
// Caller holds mu.
func (s *Synchronizer) assign(ctx context.Context, ev *Event) {
	if s.journal == nil {
		ev.Seq = s.seq.Next()
		return
	}

	jctx := context.WithoutCancel(ctx)
	rec, err := s.journal.AppendNextEvent(jctx, func(seq int64) (store.EventRecord, error) {
		ev.Seq = seq
		return encodeRecord(*ev)
	})
	if err != nil {
		// Delivered locally but not durable: replay after a restart, and
		// other processes, will not see it.
		ev.Seq = s.seq.Next()
		s.journalFailures.Add(1)
		s.logger.Warn("event not journaled", "seq", ev.Seq, "error", err)
		return
	}

	if rec.Seq > s.seq.Current()+1 {
		if err := s.follow(jctx, rec.Seq); err != nil {
			s.logger.Warn("events journaled by another process not admitted", "before", rec.Seq, "error", err)
		}
	}
	s.seq.Observe(rec.Seq)
}

// admit retains ev and queues it for every subscriber. Caller holds mu.
func (s *Synchronizer) admit(ev Event) {
	if evicted, ok := s.log.append(ev); ok {
		s.expire(evicted)
	}

	var tracker *ackTracker
	if ev.RequiresAck {
		tracker = newAckTracker()
		s.acks[ev.ID] = tracker
	}
	for _, sub := range s.subs {
		ok, merged := sub.enqueue(ev, s.cfg.CoalesceWindow)
		switch {
		case merged:
			s.coalesced.Add(1)
		case !ok:
			s.dropped.Add(1)
			s.logger.Warn("subscriber outbox full, marked for resync", "subscriber", sub.id, "seq", ev.Seq)
		}
		if ok && tracker != nil {
			tracker.owe(sub.id)
		}
	}
	if tracker != nil {
		tracker.finishIfSettled()
	}
}

// Follow admits events that other processes sharing the journal published
// after the last local event. Run calls it on every sweep.
func (s *Synchronizer) Follow(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follow(ctx, 0)
}

// follow admits journaled events after the local sequence and before upto;
// upto 0 admits all of them. Their cached views are invalidated first, as
// for local events. Caller holds mu.
func (s *Synchronizer) follow(ctx context.Context, upto int64) error {
	recs, err := s.journal.ReadEventsAfter(ctx, s.seq.Current(), 0)
	if err != nil {
		return fmt.Errorf("follow journal: %w", err)
	}
	for _, rec := range recs {
		if upto > 0 && rec.Seq >= upto {
			break
		}
		ev, err := DecodeRecord(rec)
		if err != nil {
			return err
		}
		if s.invalidator != nil {
			if err := s.invalidator.Invalidate(ctx, ev.Entities); err != nil {
				s.invalidationFailures.Add(1)
				s.logger.Warn("admitting with stale cached views", "seq", ev.Seq, "error", err)
			}
		}
		s.admit(ev)
		s.seq.Observe(ev.Seq)
		s.followed.Add(1)
	}
	return nil
}

// Subscribe registers a subscriber. name must be unique among open
// subscriptions; empty names are generated.
func (s *Synchronizer) Subscribe(name string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		s.nextID++
		name = fmt.Sprintf("sub-%d", s.nextID)
	}
	if _, exists := s.subs[name]; exists {
		return nil, fmt.Errorf("subscriber %q already connected", name)
	}
	sub := newSubscription(name, s, s.cfg.SubscriberBuffer)
	s.subs[name] = sub
	s.logger.Debug("subscriber connected", "subscriber", name)
	return sub, nil
}

func (s *Synchronizer) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub.id)
	for _, t := range s.acks {
		t.settle(sub.id, nil)
	}
	sub.signal()
	s.logger.Debug("subscriber disconnected", "subscriber", sub.id)
}

// ReplayFrom returns every event with sequence > after, ascending, with no
// gaps. Events that left the retention log are read from the journal when
// one is configured; otherwise the result is ErrReplayGap.
func (s *Synchronizer) ReplayFrom(ctx context.Context, after int64) ([]Event, error) {
	after = max(after, 0)
	if err := s.Follow(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	current := s.seq.Current()
	if after >= current {
		s.mu.Unlock()
		return []Event{}, nil
	}
	oldest, ok := s.log.oldest()
	if ok && after >= oldest.Seq-1 {
		evs := s.log.after(after)
		s.mu.Unlock()
		return evs, nil
	}
	s.mu.Unlock()

	if s.journal == nil {
		return nil, fmt.Errorf("%w: after %d, oldest retained %d", ErrReplayGap, after, oldest.Seq)
	}

	recs, err := s.journal.ReadEventsAfter(ctx, after, 0)
	if err != nil {
		return nil, fmt.Errorf("replay from journal: %w", err)
	}
	evs := make([]Event, 0, len(recs))
	next := after + 1
	for _, rec := range recs {
		if rec.Seq != next {
			return nil, fmt.Errorf("%w: journal skips from %d to %d", ErrReplayGap, next, rec.Seq)
		}
		ev, err := DecodeRecord(rec)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
		next++
	}
	return evs, nil
}

// Acknowledge records that subscriber subID applied eventID. Acknowledging
// twice, or acknowledging an event that needs none, is harmless.
func (s *Synchronizer) Acknowledge(subID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[subID]; !ok {
		return fmt.Errorf("acknowledge %s: unknown subscriber %q", eventID, subID)
	}
	delete(s.subs[subID].unacked, eventID)
	if t := s.acks[eventID]; t != nil {
		t.settle(subID, nil)
	}
	return nil
}

// AwaitAck waits until every subscriber that received eventID acknowledged
// it, or one of them could not be reached. Cancelling ctx only stops the
// wait; the committed change and the delivery state are unaffected.
func (s *Synchronizer) AwaitAck(ctx context.Context, eventID string) error {
	s.mu.Lock()
	t := s.acks[eventID]
	s.mu.Unlock()
	if t == nil {
		return &domain.Error{
			Code:     domain.ErrCodeNotFound,
			Message:  "no acknowledgment tracked for event",
			EntityID: eventID,
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return t.err
}

// Sweep redelivers unacknowledged events whose backoff elapsed, gives up
// on those out of attempts or retention, and evicts events older than the
// retention window.
func (s *Synchronizer) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w := s.cfg.RetentionWindow; w > 0 {
		for _, ev := range s.log.dropBefore(now.Add(-w)) {
			s.expire(ev)
		}
	}

	for _, sub := range s.subs {
		for _, d := range sub.unacked {
			if d.queued || now.Before(d.nextAt) {
				continue
			}
			expired := s.cfg.RetentionWindow > 0 && now.Sub(d.ev.CreatedAt) >= s.cfg.RetentionWindow
			if d.attempts >= s.cfg.AckMaxAttempts || expired {
				s.undeliver(sub, d)
				continue
			}
			ok, _ := sub.enqueue(d.ev, 0)
			if !ok {
				s.undeliver(sub, d)
				continue
			}
			d.queued = true
			s.redelivered.Add(1)
			s.logger.Debug("redelivering unacknowledged event", "subscriber", sub.id, "seq", d.ev.Seq, "attempt", d.attempts+1)
		}
	}
}

// Run follows the journal and sweeps every cfg.SweepInterval until ctx
// ends.
func (s *Synchronizer) Run(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Follow(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("journal follow failed", "error", err)
			}
			s.Sweep(s.now())
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	subs, retained, last := len(s.subs), s.log.len(), s.seq.Current()
	s.mu.Unlock()

	return Stats{
		Published:            s.published.Load(),
		Delivered:            s.delivered.Load(),
		Coalesced:            s.coalesced.Load(),
		Redelivered:          s.redelivered.Load(),
		Undeliverable:        s.undeliverable.Load(),
		Dropped:              s.dropped.Load(),
		Resyncs:              s.resyncs.Load(),
		JournalFailures:      s.journalFailures.Load(),
		Followed:             s.followed.Load(),
		InvalidationFailures: s.invalidationFailures.Load(),
		Subscribers:          subs,
		Retained:             retained,
		LastSeq:              last,
	}
}

// LastSeq returns the highest assigned sequence number.
func (s *Synchronizer) LastSeq() int64 {
	return s.seq.Current()
}

// ackBackoff returns base * 2^(attempt-1).
func (s *Synchronizer) ackBackoff(attempt int) time.Duration {
	d := s.cfg.AckBaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// undeliver gives up on one delivery. Caller holds mu.
func (s *Synchronizer) undeliver(sub *Subscription, d *delivery) {
	delete(sub.unacked, d.ev.ID)
	sub.resync = true
	sub.signal()

	err := domain.NewDeliveryError(d.ev.ID, sub.id, d.attempts)
	s.undeliverable.Add(1)
	s.logger.Warn("event undeliverable", "subscriber", sub.id, "seq", d.ev.Seq, "error", err)
	if t := s.acks[d.ev.ID]; t != nil {
		t.settle(sub.id, err)
	}
}

// expire handles an event leaving the retention log. Caller holds mu.
func (s *Synchronizer) expire(ev Event) {
	t := s.acks[ev.ID]
	if t == nil {
		return
	}
	for subID := range t.owed {
		sub := s.subs[subID]
		if sub == nil {
			t.settle(subID, nil)
			continue
		}
		d := sub.unacked[ev.ID]
		if d == nil {
			d = &delivery{ev: ev}
		}
		s.undeliver(sub, d)
	}
	delete(s.acks, ev.ID)
}
