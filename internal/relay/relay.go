package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
)

// Source is the event stream a relay reads.
// Implemented by *events.Synchronizer.
type Source interface {
	Subscribe(name string) (*events.Subscription, error)
	ReplayFrom(ctx context.Context, after int64) ([]events.Event, error)
	LastSeq() int64
}

// Stats counts relay activity.
type Stats struct {
	Forwarded  int64 `json:"forwarded"`
	Duplicates int64 `json:"duplicates"`
	Failures   int64 `json:"failures"`
	Replays    int64 `json:"replays"`
}

// Relay forwards every event from a Source to its sinks.
type Relay struct {
	source Source
	sinks  []Sink
	name   string
	logger *slog.Logger

	baseBackoff time.Duration
	maxBackoff  time.Duration

	wm *events.Watermark

	forwarded, duplicates, failures, replays atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

// WithName sets the subscriber name (default "relay").
func WithName(name string) Option {
	return func(r *Relay) { r.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithRetryBackoff sets the delay before resending to a failing sink. It
// doubles per attempt up to limit (defaults 100ms and 5s).
func WithRetryBackoff(base, limit time.Duration) Option {
	return func(r *Relay) {
		r.baseBackoff = base
		r.maxBackoff = limit
	}
}

// New creates a relay. It forwards events published after Run starts.
func New(src Source, sinks []Sink, opts ...Option) *Relay {
	r := &Relay{
		source: src,
		sinks:  sinks,
		name:   "relay",
		logger: slog.Default(),

		baseBackoff: 100 * time.Millisecond,
		maxBackoff:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run subscribes and forwards until ctx ends. Sinks are closed on return.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sub.Close()
		for _, s := range r.sinks {
			if err := s.Close(); err != nil {
				r.logger.Warn("closing sink", "sink", s.Name(), "error", err)
			}
		}
	}()

	r.logger.Info("relay started", "subscriber", r.name, "sinks", len(r.sinks), "from_seq", r.wm.Low())
	for {
		if err := r.step(ctx, sub); err != nil {
			return err
		}
	}
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:  r.forwarded.Load(),
		Duplicates: r.duplicates.Load(),
		Failures:   r.failures.Load(),
		Replays:    r.replays.Load(),
	}
}

// open subscribes and forwards anything published between reading the
// start position and the subscription taking effect.
func (r *Relay) open(ctx context.Context) (*events.Subscription, error) {
	r.wm = events.NewWatermark(r.source.LastSeq())
	sub, err := r.source.Subscribe(r.name)
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	if err := r.catchUp(ctx, sub); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// step handles one read from the subscription.
func (r *Relay) step(ctx context.Context, sub *events.Subscription) error {
	ev, err := sub.Next(ctx)
	switch {
	case err == nil:
		return r.forward(ctx, sub, ev)
	case errors.Is(err, events.ErrResync):
		r.logger.Warn("relay fell behind, replaying", "from_seq", r.wm.Low())
		return r.catchUp(ctx, sub)
	default:
		return err
	}
}

// catchUp forwards retained events above the watermark. When they are no
// longer retained the relay skips ahead; the gap is logged.
func (r *Relay) catchUp(ctx context.Context, sub *events.Subscription) error {
	r.replays.Add(1)
	evs, err := r.source.ReplayFrom(ctx, r.wm.Low())
	if errors.Is(err, events.ErrReplayGap) {
		last := r.source.LastSeq()
		r.logger.Error("events lost for relay", "from_seq", r.wm.Low(), "resume_seq", last, "error", err)
		r.wm = events.NewWatermark(last)
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay replay: %w", err)
	}
	for _, ev := range evs {
		if err := r.forward(ctx, sub, ev); err != nil {
			return err
		}
	}
	return nil
}

// forward sends ev to every sink. Only when all accept is it marked applied
// and acknowledged. A failing sink holds the stream until it recovers or
// ctx ends, since only ack-required events are ever redelivered.
func (r *Relay) forward(ctx context.Context, sub *events.Subscription, ev events.Event) error {
	if r.wm.Applied(ev.Seq) {
		r.duplicates.Add(1)
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		r.failures.Add(1)
		r.logger.Error("encode event", "seq", ev.Seq, "error", err)
		return nil
	}
	for _, s := range r.sinks {
		if err := r.send(ctx, s, ev, body); err != nil {
			return err
		}
	}

	r.wm.Apply(ev)
	r.forwarded.Add(1)
	if ev.RequiresAck {
		if err := sub.Ack(ev.ID); err != nil {
			r.logger.Warn("relay ack failed", "seq", ev.Seq, "error", err)
		}
	}
	r.logger.Debug("event relayed", "seq", ev.Seq, "type", ev.Type)
	return nil
}

// send delivers body to one sink, retrying with capped exponential backoff.
// It fails only when ctx ends.
func (r *Relay) send(ctx context.Context, s Sink, ev events.Event, body []byte) error {
	d := r.baseBackoff
	for attempt := 1; ; attempt++ {
		err := s.Send(ctx, ev, body)
		if err == nil {
			return nil
		}
		r.failures.Add(1)
		r.logger.Warn("relay send failed", "sink", s.Name(), "seq", ev.Seq, "attempt", attempt, "backoff", d, "error", err)
		if err := sleep(ctx, d); err != nil {
			return err
		}
		if d *= 2; r.maxBackoff > 0 && d > r.maxBackoff {
			d = r.maxBackoff
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
