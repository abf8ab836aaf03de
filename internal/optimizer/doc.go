// Package optimizer runs optimization passes over the waiting queue.
//
// A pass reads a bounded, oldest-first slice of waiting items, scores them,
// plans (item, worker) pairs with the assignment selector and commits each
// pair on its own through the queue service. A pair that loses a race is
// deferred to a later pass; it never fails the pass. Only configuration
// errors abort a pass, because every later score would be wrong too.
//
// Items left waiting whose score drifted by at least the rescore threshold
// get their stored score refreshed.
//
// Scheduler runs passes on a fixed cadence and on demand.
package optimizer
