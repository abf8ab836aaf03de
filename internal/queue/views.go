package queue

import (
	"context"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/assign"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/cache"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// Position is one waiting item's place in the service order.
type Position struct {
	ItemID        string          `json:"item_id"`
	Category      domain.Category `json:"category"`
	Score         int64           `json:"score"`
	Position      int             `json:"position"`
	EstimatedWait int64           `json:"estimated_wait_minutes"`
}

// Positions returns every waiting item in service order with its 1-based
// position and estimated wait. With a category, only that category's items
// are returned; positions stay those of the full order.
//
// Ordering uses the committed scores, so the view changes only when items
// change.
func (s *Service) Positions(ctx context.Context, category domain.Category) ([]Position, error) {
	all, err := read(ctx, s, cache.QueueOrderKey, s.loadPositions)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return all, nil
	}
	category = domain.NormalizeCategory(string(category))
	out := []Position{}
	for _, p := range all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) loadPositions(ctx context.Context) ([]Position, error) {
	items, err := s.store.ReadWaitingItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	workers, err := s.store.ReadWorkers(ctx, store.WorkerFilter{})
	if err != nil {
		return nil, err
	}
	active := 0
	for _, w := range workers {
		if w.Availability == domain.AvailabilityAvailable || w.Availability == domain.AvailabilityBusy {
			active++
		}
	}

	ranked := assign.Rank(items)
	out := make([]Position, len(ranked))
	for i, it := range ranked {
		out[i] = Position{
			ItemID:        it.ID,
			Category:      it.Category,
			Score:         it.Score,
			Position:      i + 1,
			EstimatedWait: priority.EstimateWait(i+1, active, s.avgServiceMinutes),
		}
	}
	return out, nil
}

// QueueLength returns the number of waiting items in category.
func (s *Service) QueueLength(ctx context.Context, category domain.Category) (int, error) {
	category = domain.NormalizeCategory(string(category))
	return read(ctx, s, cache.QueueLengthKey(category), func(ctx context.Context) (int, error) {
		return s.store.CountWaiting(ctx, category)
	})
}

// ItemDetail returns the current state of one item.
func (s *Service) ItemDetail(ctx context.Context, id string) (domain.WaitingItem, error) {
	return read(ctx, s, cache.ItemKey(id), func(ctx context.Context) (domain.WaitingItem, error) {
		return s.store.ReadItem(ctx, id)
	})
}

// WorkerDetail returns the current state of one worker.
func (s *Service) WorkerDetail(ctx context.Context, id string) (domain.Worker, error) {
	return read(ctx, s, cache.WorkerKey(id), func(ctx context.Context) (domain.Worker, error) {
		return s.store.ReadWorker(ctx, id)
	})
}

// AvailableWorkers returns the workers that can take an item now.
func (s *Service) AvailableWorkers(ctx context.Context) ([]domain.Worker, error) {
	return read(ctx, s, cache.AvailableWorkersKey, func(ctx context.Context) ([]domain.Worker, error) {
		return s.store.ReadWorkers(ctx, store.WorkerFilter{Availability: domain.AvailabilityAvailable})
	})
}

func read[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}
	return cache.ReadThrough(ctx, s.cache, key, load)
}
