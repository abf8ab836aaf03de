package queue

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/guard"
)

// Transition names carried in event payloads.
const (
	TransitionAdmit        = "admit"
	TransitionRegister     = "register"
	TransitionAssign       = "assign"
	TransitionStart        = "start"
	TransitionComplete     = "complete"
	TransitionCancel       = "cancel"
	TransitionUnassign     = "unassign"
	TransitionNoShow       = "no_show"
	TransitionRescore      = "rescore"
	TransitionAvailability = "availability"
)

// Admit stores a new waiting item with its initial score.
//
// Category and factors are normalized; an unknown category or factor is a
// configuration error and nothing is stored. A zero arrival time is stamped
// with the current time.
func (s *Service) Admit(ctx context.Context, it domain.WaitingItem) (Result, error) {
	if it.ID == "" {
		return Result{}, fmt.Errorf("admit: item id required")
	}
	it = it.Clone()
	it.Category = domain.NormalizeCategory(string(it.Category))
	for i, f := range it.Factors {
		it.Factors[i] = domain.NormalizeFactor(string(f))
	}
	if it.ArrivedAt.IsZero() {
		it.ArrivedAt = s.now()
	}
	it.Status = domain.StatusWaiting
	it.WorkerID = ""
	it.Version = 1

	score, err := s.calc.Score(it, s.now())
	if err != nil {
		return Result{}, err
	}
	it.Score = score

	inserted, err := s.store.InsertItem(ctx, it)
	if err != nil {
		return Result{}, fmt.Errorf("admit %s: %w", it.ID, err)
	}
	if !inserted {
		return Result{}, fmt.Errorf("admit %s: item already exists", it.ID)
	}

	p := events.PriorityNormal
	if s.calc.Critical(it.Category) {
		p = events.PriorityCritical
	}
	res := Result{Item: &it}
	res.Event = s.publish(ctx, res, events.Draft{
		Type:     events.TypeQueueStateChange,
		Priority: p,
		Payload:  events.Payload{Transition: TransitionAdmit},
	})
	s.logger.Info("item admitted", "item", it.ID, "category", it.Category, "score", it.Score)
	return res, nil
}

// RegisterWorker stores a new worker. An empty availability means
// available. A worker cannot be registered busy.
func (s *Service) RegisterWorker(ctx context.Context, w domain.Worker) (Result, error) {
	if w.ID == "" {
		return Result{}, fmt.Errorf("register worker: id required")
	}
	w = w.Clone()
	if w.Availability == "" {
		w.Availability = domain.AvailabilityAvailable
	}
	if !w.Availability.Valid() || w.Availability == domain.AvailabilityBusy || w.CurrentItemID != "" {
		return Result{}, domain.NewTransitionError(w.ID, "unregistered", w.Availability)
	}
	for i, c := range w.Specializations {
		w.Specializations[i] = domain.NormalizeCategory(string(c))
	}
	w.Load = 0
	w.Version = 1

	inserted, err := s.store.InsertWorker(ctx, w)
	if err != nil {
		return Result{}, fmt.Errorf("register worker %s: %w", w.ID, err)
	}
	if !inserted {
		return Result{}, fmt.Errorf("register worker %s: worker already exists", w.ID)
	}

	res := Result{Worker: &w}
	res.Event = s.publish(ctx, res, events.Draft{
		Type:     events.TypeWorkerStatusChange,
		Priority: events.PriorityNormal,
		Payload:  events.Payload{Transition: TransitionRegister},
	})
	s.logger.Info("worker registered", "worker", w.ID, "availability", w.Availability)
	return res, nil
}

// Assign gives a waiting item to an available worker. The event requires
// acknowledgment and records whether the worker is specialized in the
// item's category.
func (s *Service) Assign(ctx context.Context, itemID, workerID string) (Result, error) {
	refs := []domain.EntityRef{domain.ItemRef(itemID), domain.WorkerRef(workerID)}
	return s.mutate(ctx, refs, func(tx *guard.Tx) (Result, events.Draft, error) {
		it, w, err := pair(tx, itemID, workerID)
		if err != nil {
			return Result{}, events.Draft{}, err
		}
		if err := domain.Assign(it, w); err != nil {
			return Result{}, events.Draft{}, err
		}
		specialized := w.Specializes(it.Category)
		return Result{Item: it, Worker: w}, events.Draft{
			Type:        events.TypeAssignmentMade,
			Priority:    s.assignmentPriority(it.Category),
			RequiresAck: true,
			Payload: events.Payload{
				Transition:  TransitionAssign,
				Specialized: &specialized,
			},
		}, nil
	})
}

// Start marks an assigned item as in service with its worker.
func (s *Service) Start(ctx context.Context, itemID string) (Result, error) {
	return s.ownedEdge(ctx, itemID, domain.StatusInService, TransitionStart, events.PriorityNormal, "", domain.Start)
}

// Complete finishes service of an item and frees its worker.
func (s *Service) Complete(ctx context.Context, itemID string) (Result, error) {
	return s.ownedEdge(ctx, itemID, domain.StatusCompleted, TransitionComplete, events.PriorityNormal, "", domain.Complete)
}

// MarkNoShow records that an assigned item was never claimed. The timeout
// that decides this belongs to the caller.
func (s *Service) MarkNoShow(ctx context.Context, itemID string) (Result, error) {
	return s.ownedEdge(ctx, itemID, domain.StatusNoShow, TransitionNoShow, events.PriorityNormal, "", domain.MarkNoShow)
}

// Unassign reverses an assignment that has not started. The item returns to
// waiting and the worker moves to next.
func (s *Service) Unassign(ctx context.Context, itemID string, next domain.Availability, reason string) (Result, error) {
	return s.ownedEdge(ctx, itemID, domain.StatusWaiting, TransitionUnassign, events.PriorityHigh, reason,
		func(it *domain.WaitingItem, w *domain.Worker) error {
			return domain.Unassign(it, w, next)
		})
}

// ownedEdge applies a transition that involves an item and the worker that
// currently holds it.
func (s *Service) ownedEdge(ctx context.Context, itemID string, to domain.Status, name string, p events.Priority, reason string, apply func(*domain.WaitingItem, *domain.Worker) error) (Result, error) {
	return s.withOwner(ctx, itemID, to, func(cur domain.WaitingItem) (Result, error) {
		refs := []domain.EntityRef{cur.Ref(), domain.WorkerRef(cur.WorkerID)}
		return s.mutate(ctx, refs, func(tx *guard.Tx) (Result, events.Draft, error) {
			it, w, err := pair(tx, itemID, cur.WorkerID)
			if err != nil {
				return Result{}, events.Draft{}, err
			}
			if it.WorkerID != cur.WorkerID {
				return Result{}, events.Draft{}, errOwnerChanged
			}
			if err := apply(it, w); err != nil {
				return Result{}, events.Draft{}, err
			}
			return Result{Item: it, Worker: w}, events.Draft{
				Type:     events.TypeQueueStateChange,
				Priority: p,
				Payload:  events.Payload{Transition: name, Reason: reason},
			}, nil
		})
	})
}

// Cancel withdraws a waiting item.
func (s *Service) Cancel(ctx context.Context, itemID, reason string) (Result, error) {
	return s.mutate(ctx, []domain.EntityRef{domain.ItemRef(itemID)}, func(tx *guard.Tx) (Result, events.Draft, error) {
		it, err := tx.Item(itemID)
		if err != nil {
			return Result{}, events.Draft{}, err
		}
		if err := domain.Cancel(it); err != nil {
			return Result{}, events.Draft{}, err
		}
		return Result{Item: it}, events.Draft{
			Type:     events.TypeQueueStateChange,
			Priority: events.PriorityNormal,
			Payload:  events.Payload{Transition: TransitionCancel, Reason: reason},
		}, nil
	})
}

// SetAvailability changes a worker's availability.
//
// A worker holding an assigned item that has not started releases it in
// the same mutation: the item goes back to waiting. A worker serving an
// item cannot change availability until it completes.
func (s *Service) SetAvailability(ctx context.Context, workerID string, next domain.Availability, reason string) (Result, error) {
	for range ownerAttempts {
		cur, err := s.store.ReadWorker(ctx, workerID)
		if err != nil {
			return Result{}, err
		}
		itemID := cur.CurrentItemID

		refs := []domain.EntityRef{domain.WorkerRef(workerID)}
		if itemID != "" {
			refs = append(refs, domain.ItemRef(itemID))
		}
		res, err := s.mutate(ctx, refs, func(tx *guard.Tx) (Result, events.Draft, error) {
			w, err := tx.Worker(workerID)
			if err != nil {
				return Result{}, events.Draft{}, err
			}
			if w.CurrentItemID != itemID {
				return Result{}, events.Draft{}, errOwnerChanged
			}
			if itemID == "" {
				if err := domain.SetAvailability(w, next); err != nil {
					return Result{}, events.Draft{}, err
				}
				return Result{Worker: w}, events.Draft{
					Type:     events.TypeWorkerStatusChange,
					Priority: events.PriorityNormal,
					Payload:  events.Payload{Transition: TransitionAvailability, Reason: reason},
				}, nil
			}

			it, err := tx.Item(itemID)
			if err != nil {
				return Result{}, events.Draft{}, err
			}
			if err := domain.Unassign(it, w, next); err != nil {
				return Result{}, events.Draft{}, err
			}
			return Result{Item: it, Worker: w}, events.Draft{
				Type:     events.TypeWorkerStatusChange,
				Priority: events.PriorityHigh,
				Payload:  events.Payload{Transition: TransitionUnassign, Reason: reason},
			}, nil
		})
		if errors.Is(err, errOwnerChanged) {
			continue
		}
		if err == nil && res.Item != nil {
			s.logger.Info("assignment reversed by availability change", "worker", workerID, "item", res.Item.ID, "availability", next)
		}
		return res, err
	}
	return Result{}, domain.NewConflictError(ownerAttempts, domain.WorkerRef(workerID).Key())
}

// RescoreRequest describes one score recomputation.
type RescoreRequest struct {
	ItemID string
	Reason string

	// Priority is the delivery class of the resulting event. Manual
	// overrides use normal; optimizer housekeeping uses low.
	Priority events.Priority

	// MinDelta skips the commit, returning ErrUnchanged, when the new score
	// differs from the stored one by less than this. Zero always commits.
	MinDelta int64
}

// Rescore recomputes a waiting item's score from the current time and
// commits it. The event carries the score breakdown.
func (s *Service) Rescore(ctx context.Context, req RescoreRequest) (Result, error) {
	return s.mutate(ctx, []domain.EntityRef{domain.ItemRef(req.ItemID)}, func(tx *guard.Tx) (Result, events.Draft, error) {
		it, err := tx.Item(req.ItemID)
		if err != nil {
			return Result{}, events.Draft{}, err
		}
		if it.Status != domain.StatusWaiting {
			return Result{}, events.Draft{}, domain.NewTransitionError(it.ID, it.Status, TransitionRescore)
		}
		b, err := s.calc.Explain(*it, s.now())
		if err != nil {
			return Result{}, events.Draft{}, err
		}
		if abs(b.Total-it.Score) < req.MinDelta {
			return Result{}, events.Draft{}, ErrUnchanged
		}
		if err := domain.Rescore(it, b.Total); err != nil {
			return Result{}, events.Draft{}, err
		}
		return Result{Item: it}, events.Draft{
			Type:     events.TypeQueueStateChange,
			Priority: req.Priority,
			Payload: events.Payload{
				Transition: TransitionRescore,
				Reason:     req.Reason,
				Score:      &b,
			},
		}, nil
	})
}

func pair(tx *guard.Tx, itemID, workerID string) (*domain.WaitingItem, *domain.Worker, error) {
	it, err := tx.Item(itemID)
	if err != nil {
		return nil, nil, err
	}
	w, err := tx.Worker(workerID)
	if err != nil {
		return nil, nil, err
	}
	return it, w, nil
}

func abs(n int64) int64 {
	if n == math.MinInt64 {
		return math.MaxInt64
	}
	if n < 0 {
		return -n
	}
	return n
}
