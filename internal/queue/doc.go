// Package queue is the only writer of item and worker state.
//
// Each exported mutation is one legal edge of the item state machine (or a
// worker availability change). It runs through the concurrency guard and,
// once committed and while the entity locks are still held, publishes
// exactly one event describing the new state. Publishing invalidates the
// cached views derived from the touched entities before the event can be
// delivered.
//
// The package also serves the cached read views used by displays:
// positions with wait estimates, per-category queue length, item detail
// and available workers.
package queue
