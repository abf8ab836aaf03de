package events

import (
	"container/heap"
	"context"
	"time"
)

// delivery tracks an acknowledgment-required event handed to a subscriber.
type delivery struct {
	ev       Event
	attempts int
	nextAt   time.Time
	queued   bool // waiting in the outbox for redelivery
}

// Subscription is one subscriber's view of the stream. A subscription is
// meant to be read from one goroutine; Ack and Close may be called from any.
type Subscription struct {
	id   string
	sync *Synchronizer

	// Guarded by sync.mu.
	outbox   outbox
	latest   map[string]*queued // coalesce key -> slot still in outbox
	unacked  map[string]*delivery
	capacity int
	resync   bool
	closed   bool

	notify chan struct{}
}

func newSubscription(id string, s *Synchronizer, capacity int) *Subscription {
	if capacity < 1 {
		capacity = 1
	}
	return &Subscription{
		id:       id,
		sync:     s,
		latest:   make(map[string]*queued),
		unacked:  make(map[string]*delivery),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// ID returns the subscriber identifier.
func (sub *Subscription) ID() string { return sub.id }

// Next blocks until an event is available and returns it.
//
// It returns ErrResync once after this subscriber lost events (outbox
// overflow or an undeliverable acknowledgment); the caller should replay
// from its watermark and keep reading. It returns ErrClosed after Close and
// ctx.Err() when ctx ends.
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	s := sub.sync
	for {
		s.mu.Lock()
		if sub.closed {
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		if sub.resync {
			sub.resync = false
			s.mu.Unlock()
			s.resyncs.Add(1)
			return Event{}, ErrResync
		}
		if sub.outbox.Len() > 0 {
			ev := sub.pop(s.now())
			s.mu.Unlock()
			s.delivered.Add(1)
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-sub.notify:
		}
	}
}

// Ack acknowledges an event delivered to this subscription.
func (sub *Subscription) Ack(eventID string) error {
	return sub.sync.Acknowledge(sub.id, eventID)
}

// Close ends the subscription. Acknowledgments it still owes are released
// so waiters are not held by a subscriber that left.
func (sub *Subscription) Close() {
	sub.sync.unsubscribe(sub)
}

// Pending returns the number of events waiting in the outbox.
func (sub *Subscription) Pending() int {
	sub.sync.mu.Lock()
	defer sub.sync.mu.Unlock()
	return sub.outbox.Len()
}

func (sub *Subscription) signal() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// enqueue places ev in the outbox. Caller holds sync.mu.
// It reports whether ev was queued and whether it merged into an
// existing slot.
func (sub *Subscription) enqueue(ev Event, window time.Duration) (ok, merged bool) {
	if sub.closed {
		return false, false
	}

	key := ""
	if ev.coalescable() && window > 0 {
		key = ev.coalesceKey()
		if q, ok := sub.latest[key]; ok && q.index >= 0 && ev.CreatedAt.Sub(q.first) <= window {
			supersedes := append(append([]int64(nil), q.ev.Supersedes...), q.ev.Seq)
			q.ev = ev
			q.ev.Supersedes = supersedes
			heap.Fix(&sub.outbox, q.index)
			sub.signal()
			return true, true
		}
	}

	if sub.outbox.Len() >= sub.capacity {
		sub.resync = true
		sub.signal()
		return false, false
	}

	q := &queued{ev: ev, first: ev.CreatedAt}
	heap.Push(&sub.outbox, q)
	if key != "" {
		sub.latest[key] = q
	}
	sub.signal()
	return true, false
}

// pop removes the next event and records ack-required deliveries.
// Caller holds sync.mu.
func (sub *Subscription) pop(now time.Time) Event {
	s := sub.sync
	q := heap.Pop(&sub.outbox).(*queued)
	ev := q.ev
	if ev.coalescable() {
		key := ev.coalesceKey()
		if sub.latest[key] == q {
			delete(sub.latest, key)
		}
	}

	if ev.RequiresAck {
		if t := s.acks[ev.ID]; t != nil && t.owes(sub.id) {
			d := sub.unacked[ev.ID]
			if d == nil {
				d = &delivery{ev: ev}
				sub.unacked[ev.ID] = d
			}
			d.queued = false
			d.attempts++
			d.nextAt = now.Add(s.ackBackoff(d.attempts))
		}
	}
	return ev
}
