package domain

// State machine for WaitingItem:
//
//	waiting  -> assigned    (Assign)
//	assigned -> in_service  (Start)
//	in_service -> completed (Complete)
//	waiting  -> cancelled   (Cancel)
//	assigned -> waiting     (Unassign)
//	assigned -> no_show     (MarkNoShow, signalled by an external timeout)
//
// Every function validates the source state and leaves both arguments
// untouched when it returns an error.

// Assign moves a waiting item to an available worker.
func Assign(item *WaitingItem, w *Worker) error {
	if item.Status != StatusWaiting {
		return NewTransitionError(item.ID, item.Status, StatusAssigned)
	}
	if w.Availability != AvailabilityAvailable || w.CurrentItemID != "" {
		return NewTransitionError(w.ID, w.Availability, AvailabilityBusy)
	}
	item.Status = StatusAssigned
	item.WorkerID = w.ID
	w.Availability = AvailabilityBusy
	w.CurrentItemID = item.ID
	w.Load++
	return nil
}

// Start marks an assigned item as being served by its worker.
func Start(item *WaitingItem, w *Worker) error {
	if item.Status != StatusAssigned {
		return NewTransitionError(item.ID, item.Status, StatusInService)
	}
	if item.WorkerID != w.ID || w.CurrentItemID != item.ID {
		return NewTransitionError(item.ID, "assigned to "+item.WorkerID, "served by "+w.ID)
	}
	item.Status = StatusInService
	return nil
}

// Complete finishes service and frees the worker.
func Complete(item *WaitingItem, w *Worker) error {
	if item.Status != StatusInService {
		return NewTransitionError(item.ID, item.Status, StatusCompleted)
	}
	if item.WorkerID != w.ID || w.CurrentItemID != item.ID {
		return NewTransitionError(item.ID, "served by "+item.WorkerID, "completed by "+w.ID)
	}
	item.Status = StatusCompleted
	item.WorkerID = ""
	release(w, AvailabilityAvailable)
	return nil
}

// Cancel withdraws a waiting item.
func Cancel(item *WaitingItem) error {
	if item.Status != StatusWaiting {
		return NewTransitionError(item.ID, item.Status, StatusCancelled)
	}
	item.Status = StatusCancelled
	return nil
}

// Unassign reverses an assignment that has not started. The worker moves to
// next, which must not be busy.
func Unassign(item *WaitingItem, w *Worker, next Availability) error {
	if item.Status != StatusAssigned {
		return NewTransitionError(item.ID, item.Status, StatusWaiting)
	}
	if item.WorkerID != w.ID {
		return NewTransitionError(item.ID, "assigned to "+item.WorkerID, "released by "+w.ID)
	}
	if next == AvailabilityBusy || !next.Valid() {
		return NewTransitionError(w.ID, w.Availability, next)
	}
	item.Status = StatusWaiting
	item.WorkerID = ""
	release(w, next)
	return nil
}

// MarkNoShow records that an assigned item was never claimed.
func MarkNoShow(item *WaitingItem, w *Worker) error {
	if item.Status != StatusAssigned {
		return NewTransitionError(item.ID, item.Status, StatusNoShow)
	}
	if item.WorkerID != w.ID {
		return NewTransitionError(item.ID, "assigned to "+item.WorkerID, "no-show for "+w.ID)
	}
	item.Status = StatusNoShow
	item.WorkerID = ""
	release(w, AvailabilityAvailable)
	return nil
}

// Rescore replaces the priority score of a waiting item.
func Rescore(item *WaitingItem, score int64) error {
	if item.Status != StatusWaiting {
		return NewTransitionError(item.ID, item.Status, "rescored")
	}
	item.Score = score
	return nil
}

// SetAvailability changes the availability of a worker that holds no item.
// Busy is only reachable through Assign.
func SetAvailability(w *Worker, next Availability) error {
	if !next.Valid() || next == AvailabilityBusy {
		return NewTransitionError(w.ID, w.Availability, next)
	}
	if w.Availability == AvailabilityBusy || w.CurrentItemID != "" {
		return NewTransitionError(w.ID, w.Availability, next)
	}
	w.Availability = next
	return nil
}

func release(w *Worker, next Availability) {
	w.Availability = next
	w.CurrentItemID = ""
	if w.Load > 0 {
		w.Load--
	}
}
