package domain

import (
	"fmt"
	"time"
)

// Category is an enumerated service class (emergency, appointment, ...).
// The set of valid categories is defined by configuration.
type Category string

// Factor is a special citizen attribute that earns a flat scoring bonus.
type Factor string

const (
	FactorElderly    Factor = "elderly"
	FactorDisability Factor = "disability"
	FactorPregnancy  Factor = "pregnancy"
)

// Status is the lifecycle state of a WaitingItem.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusAssigned  Status = "assigned"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusAssigned, StatusInService, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Availability is the availability state of a Worker.
type Availability string

const (
	AvailabilityOffline   Availability = "offline"
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOnBreak   Availability = "on_break"
)

// Valid reports whether a is one of the known availability states.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityOffline, AvailabilityAvailable, AvailabilityBusy, AvailabilityOnBreak:
		return true
	}
	return false
}

// WaitingItem is a request awaiting service.
//
// ID, Category, ArrivedAt and Factors are immutable after creation.
// Score is only meaningful while Status is waiting.
type WaitingItem struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	ArrivedAt time.Time `json:"arrived_at"`
	Factors   []Factor  `json:"factors,omitempty"`
	Status    Status    `json:"status"`
	Score     int64     `json:"score"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Version   int64     `json:"version"`
}

// Ref returns the entity reference for the item.
func (it WaitingItem) Ref() EntityRef {
	return EntityRef{Kind: KindItem, ID: it.ID, Category: it.Category}
}

// Clone returns a deep copy, so guarded working copies never alias store state.
func (it WaitingItem) Clone() WaitingItem {
	if it.Factors != nil {
		it.Factors = append([]Factor(nil), it.Factors...)
	}
	return it
}

// Worker is a service agent.
//
// Load is derived by the store: the number of items currently owned
// (status assigned or in_service with WorkerID equal to this worker).
type Worker struct {
	ID              string       `json:"id"`
	Availability    Availability `json:"availability"`
	CurrentItemID   string       `json:"current_item_id,omitempty"`
	Specializations []Category   `json:"specializations,omitempty"`
	Load            int          `json:"load"`
	Version         int64        `json:"version"`
}

// Ref returns the entity reference for the worker.
func (w Worker) Ref() EntityRef {
	return EntityRef{Kind: KindWorker, ID: w.ID}
}

// Clone returns a deep copy.
func (w Worker) Clone() Worker {
	if w.Specializations != nil {
		w.Specializations = append([]Category(nil), w.Specializations...)
	}
	return w
}

// Specializes reports whether the worker lists category c.
// Callers are expected to pass normalized categories.
func (w Worker) Specializes(c Category) bool {
	for _, s := range w.Specializations {
		if s == c {
			return true
		}
	}
	return false
}

// EntityKind distinguishes the two versioned entity types.
type EntityKind string

const (
	KindItem   EntityKind = "item"
	KindWorker EntityKind = "worker"
)

// EntityRef identifies one versioned entity. Category is carried for items
// so dependent cache keys (per-category aggregates) can be derived without a
// read; it is not part of the identity.
type EntityRef struct {
	Kind     EntityKind `json:"kind"`
	ID       string     `json:"id"`
	Category Category   `json:"category,omitempty"`
}

// Key returns the identity of the entity as "kind:id".
func (r EntityRef) Key() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// ItemRef is shorthand for an item reference without category.
func ItemRef(id string) EntityRef { return EntityRef{Kind: KindItem, ID: id} }

// WorkerRef is shorthand for a worker reference.
func WorkerRef(id string) EntityRef { return EntityRef{Kind: KindWorker, ID: id} }
