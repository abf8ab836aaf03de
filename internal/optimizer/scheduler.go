package optimizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Scheduler runs optimization passes every interval and whenever Trigger
// is called. Triggers that arrive while a pass is running collapse into one
// follow-up pass.
type Scheduler struct {
	opt      *Optimizer
	interval time.Duration
	scope    Scope
	logger   *slog.Logger
	trigger  chan struct{}

	mu   sync.Mutex
	last Outcome
	runs int
}

// NewScheduler creates a scheduler for o. An interval of zero or less
// disables the cadence; passes then run only on Trigger.
func NewScheduler(o *Optimizer, interval time.Duration, scope Scope) *Scheduler {
	return &Scheduler{
		opt:      o,
		interval: interval,
		scope:    scope,
		logger:   o.logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a pass as soon as possible. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx ends. A failed pass is logged and the next
// one runs on schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("optimizer scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-s.trigger:
		}
		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	out, err := s.opt.Optimize(ctx, s.scope)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		level := slog.LevelWarn
		if domain.IsConfiguration(err) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "optimization pass failed", "error", err)
		return
	}

	s.mu.Lock()
	s.last = out
	s.runs++
	s.mu.Unlock()
}

// Last returns the most recent successful outcome and the number of
// successful passes so far.
func (s *Scheduler) Last() (Outcome, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}
