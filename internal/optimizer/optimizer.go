package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/assign"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/queue"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// Scope narrows one pass.
type Scope struct {
	// Category restricts the pass to one category when non-empty.
	Category domain.Category

	// DryRun plans without committing anything.
	DryRun bool
}

// PlannedPair is one entry of the assignment plan with the score it was
// ranked by.
type PlannedPair struct {
	ItemID      string          `json:"item_id"`
	Category    domain.Category `json:"category"`
	Score       int64           `json:"score"`
	WorkerID    string          `json:"worker_id"`
	Specialized bool            `json:"specialized"`
}

// Deferred is a planned pair that was not committed in this pass.
type Deferred struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

// Outcome reports what one pass did.
type Outcome struct {
	Scope    Scope `json:"-"`
	Scanned  int   `json:"scanned"`
	Degraded bool  `json:"degraded"`

	// Warning is a scope-exceeded error when Degraded is set.
	Warning error `json:"-"`

	Plan      []PlannedPair `json:"plan"`
	Committed []PlannedPair `json:"committed"`
	Deferred  []Deferred    `json:"deferred"`
	Rescored  []string      `json:"rescored"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Optimizer plans and commits assignments.
// Safe for concurrent use; passes do not coordinate, the guard does.
type Optimizer struct {
	svc    *queue.Service
	cfg    config.Optimizer
	logger *slog.Logger
	now    func() time.Time

	rescoreThreshold int64
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithNow sets the wall clock used for scoring.
func WithNow(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// WithRescoreThreshold sets the minimum score drift that is committed.
// Zero or less disables rescoring.
func WithRescoreThreshold(n int64) Option {
	return func(o *Optimizer) { o.rescoreThreshold = n }
}

// New creates an Optimizer over svc. A scan cap below 1 is a configuration
// error.
func New(svc *queue.Service, cfg config.Optimizer, opts ...Option) (*Optimizer, error) {
	if cfg.ScanCap < 1 {
		return nil, domain.NewConfigurationError("optimizer scan cap must be positive, got %d", cfg.ScanCap)
	}
	o := &Optimizer{
		svc:    svc,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Optimize runs one pass.
//
// When more items wait than the scan cap allows, only the oldest-arrived
// cap items are considered; the outcome is marked degraded and carries a
// scope-exceeded warning. The returned error is non-nil only for
// configuration errors, store read failures and cancellation.
func (o *Optimizer) Optimize(ctx context.Context, scope Scope) (Outcome, error) {
	started := o.now()
	out := Outcome{Scope: scope, StartedAt: started}
	st := o.svc.Store()
	calc := o.svc.Calculator()

	items, err := st.ReadWaitingItems(ctx, store.ItemFilter{Category: scope.Category, Limit: o.cfg.ScanCap + 1})
	if err != nil {
		return out, fmt.Errorf("optimize: read waiting items: %w", err)
	}
	if len(items) > o.cfg.ScanCap {
		items = items[:o.cfg.ScanCap]
		out.Degraded = true
		out.Warning = domain.NewScopeExceededError(o.cfg.ScanCap)
		o.logger.Warn("optimizer scope degraded", "cap", o.cfg.ScanCap, "category", scope.Category)
	}
	out.Scanned = len(items)

	workers, err := st.ReadWorkers(ctx, store.WorkerFilter{Availability: domain.AvailabilityAvailable})
	if err != nil {
		return out, fmt.Errorf("optimize: read workers: %w", err)
	}

	stored := make(map[string]int64, len(items))
	for i := range items {
		stored[items[i].ID] = items[i].Score
		score, err := calc.Score(items[i], started)
		if err != nil {
			return out, err
		}
		items[i].Score = score
	}

	plan := assign.Plan(items, workers)
	out.Plan = make([]PlannedPair, len(plan))
	for i, p := range plan {
		out.Plan[i] = PlannedPair{
			ItemID:      p.Item.ID,
			Category:    p.Item.Category,
			Score:       p.Item.Score,
			WorkerID:    p.Worker.ID,
			Specialized: p.Specialized,
		}
	}
	if scope.DryRun {
		out.Duration = o.now().Sub(started)
		return out, nil
	}

	assigned := make(map[string]bool, len(plan))
	for _, p := range out.Plan {
		if err := o.commit(ctx, p); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.Deferred = append(out.Deferred, Deferred{ItemID: p.ItemID, WorkerID: p.WorkerID, Reason: err.Error()})
			o.logger.Warn("optimization deferred", "item", p.ItemID, "worker", p.WorkerID, "error", err)
			continue
		}
		assigned[p.ItemID] = true
		out.Committed = append(out.Committed, p)
	}

	if o.rescoreThreshold > 0 {
		for _, it := range items {
			if assigned[it.ID] || absDiff(it.Score, stored[it.ID]) < o.rescoreThreshold {
				continue
			}
			_, err := o.svc.Rescore(ctx, queue.RescoreRequest{
				ItemID:   it.ID,
				Reason:   "optimizer",
				Priority: events.PriorityLow,
				MinDelta: o.rescoreThreshold,
			})
			switch {
			case err == nil:
				out.Rescored = append(out.Rescored, it.ID)
			case errors.Is(err, queue.ErrUnchanged):
			case ctx.Err() != nil:
				return out, ctx.Err()
			default:
				o.logger.Debug("rescore skipped", "item", it.ID, "error", err)
			}
		}
	}

	out.Duration = o.now().Sub(started)
	o.logger.Info("optimization pass complete",
		"scanned", out.Scanned,
		"planned", len(out.Plan),
		"committed", len(out.Committed),
		"deferred", len(out.Deferred),
		"rescored", len(out.Rescored),
		"degraded", out.Degraded,
	)
	return out, nil
}

// commit assigns one planned pair. A conflict is retried once with the
// guard's full retry policy.
func (o *Optimizer) commit(ctx context.Context, p PlannedPair) error {
	_, err := o.svc.Assign(ctx, p.ItemID, p.WorkerID)
	if domain.IsConflict(err) {
		o.logger.Debug("assignment conflict, retrying once", "item", p.ItemID, "worker", p.WorkerID)
		_, err = o.svc.Assign(ctx, p.ItemID, p.WorkerID)
	}
	return err
}

// Reprioritize recomputes and commits an item's score outside a pass, for
// manual overrides. The reason travels in the event payload.
func (o *Optimizer) Reprioritize(ctx context.Context, itemID, reason string) (queue.Result, error) {
	res, err := o.svc.Rescore(ctx, queue.RescoreRequest{
		ItemID:   itemID,
		Reason:   reason,
		Priority: events.PriorityNormal,
	})
	if err != nil {
		return queue.Result{}, err
	}
	o.logger.Info("item reprioritized", "item", itemID, "score", res.Item.Score, "reason", reason)
	return res, nil
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
