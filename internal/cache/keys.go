package cache

import (
	"slices"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Cache keys of derived views.
const (
	// QueueOrderKey holds the ranked positions of all waiting items.
	QueueOrderKey = "queue:order"

	// AvailableWorkersKey holds the list of available workers.
	AvailableWorkersKey = "workers:available"
)

// ItemKey holds one item's detail view.
func ItemKey(id string) string { return "item:" + id }

// QueueLengthKey holds the number of waiting items in a category.
func QueueLengthKey(c domain.Category) string { return "queue:length:" + string(c) }

// WorkerKey holds one worker's detail view.
func WorkerKey(id string) string { return "worker:" + id }

// Keys returns the sorted, de-duplicated cache keys derived from refs.
//
//	item    -> item:<id>, queue:length:<category>, queue:order
//	worker  -> worker:<id>, workers:available, queue:order
//
// Worker changes affect queue:order because positions carry wait estimates
// that depend on how many workers are active. An item ref without a
// category cannot name its aggregate; callers should always set it.
func Keys(refs []domain.EntityRef) []string {
	keys := make([]string, 0, 3*len(refs))
	for _, r := range refs {
		switch r.Kind {
		case domain.KindItem:
			keys = append(keys, ItemKey(r.ID), QueueOrderKey)
			if r.Category != "" {
				keys = append(keys, QueueLengthKey(domain.NormalizeCategory(string(r.Category))))
			}
		case domain.KindWorker:
			keys = append(keys, WorkerKey(r.ID), AvailableWorkersKey, QueueOrderKey)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
