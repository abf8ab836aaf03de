// Package assign picks which waiting item is served next and by whom.
package assign

import (
	"slices"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
)

// Pair is one (item, worker) match. Specialized is false when no worker
// listed the item's category and the selector fell back to any available
// worker; reporting treats such assignments as lower confidence.
type Pair struct {
	Item        domain.WaitingItem
	Worker      domain.Worker
	Specialized bool
}

// SelectNext returns the next pair to activate, or false when no eligible
// pair exists. Items must already carry their current score.
//
// Only waiting items and available workers holding no item are considered.
// The top item is the first under priority.Before. Its worker is the
// specialized worker with the lowest load, or failing that any available
// worker with the lowest load; remaining ties go to the lower worker ID.
func SelectNext(items []domain.WaitingItem, workers []domain.Worker) (Pair, bool) {
	cands := rankItems(items)
	pool := eligibleWorkers(workers)
	if len(cands) == 0 || len(pool) == 0 {
		return Pair{}, false
	}
	i, specialized := pickWorker(cands[0], pool)
	return Pair{Item: cands[0], Worker: pool[i], Specialized: specialized}, true
}

// Plan applies SelectNext repeatedly, removing each matched item and worker,
// until items or workers run out. The order of the result is the order in
// which pairs should be committed.
func Plan(items []domain.WaitingItem, workers []domain.Worker) []Pair {
	cands := rankItems(items)
	pool := eligibleWorkers(workers)

	var plan []Pair
	// Removing the top item leaves the rest in rank order, so one sort
	// serves every round.
	for _, it := range cands {
		if len(pool) == 0 {
			break
		}
		i, specialized := pickWorker(it, pool)
		plan = append(plan, Pair{Item: it, Worker: pool[i], Specialized: specialized})
		pool = slices.Delete(pool, i, i+1)
	}
	return plan
}

// Rank returns the waiting items in service order without mutating items.
func Rank(items []domain.WaitingItem) []domain.WaitingItem {
	return rankItems(items)
}

func rankItems(items []domain.WaitingItem) []domain.WaitingItem {
	out := make([]domain.WaitingItem, 0, len(items))
	for _, it := range items {
		if it.Status == domain.StatusWaiting {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b domain.WaitingItem) int {
		switch {
		case priority.Before(a, b):
			return -1
		case priority.Before(b, a):
			return 1
		}
		return 0
	})
	return out
}

func eligibleWorkers(workers []domain.Worker) []domain.Worker {
	out := make([]domain.Worker, 0, len(workers))
	for _, w := range workers {
		if w.Availability == domain.AvailabilityAvailable && w.CurrentItemID == "" {
			out = append(out, w)
		}
	}
	return out
}

// pickWorker returns the index in pool of the chosen worker.
func pickWorker(it domain.WaitingItem, pool []domain.Worker) (int, bool) {
	cat := domain.NormalizeCategory(string(it.Category))

	best, specialized := -1, false
	for i, w := range pool {
		match := specializes(w, cat)
		if best < 0 || better(w, match, pool[best], specialized) {
			best, specialized = i, match
		}
	}
	return best, specialized
}

func better(w domain.Worker, match bool, cur domain.Worker, curMatch bool) bool {
	if match != curMatch {
		return match
	}
	if w.Load != cur.Load {
		return w.Load < cur.Load
	}
	return w.ID < cur.ID
}

func specializes(w domain.Worker, cat domain.Category) bool {
	for _, s := range w.Specializations {
		if domain.NormalizeCategory(string(s)) == cat {
			return true
		}
	}
	return false
}
