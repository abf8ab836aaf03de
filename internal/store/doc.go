// Package store provides the SQLite-backed authoritative entity set.
//
// The store holds:
//   - Items: waiting items and their lifecycle status
//   - Workers: service agents and their availability
//   - Events: the journal of every event the synchronizer delivered
//
// # Versioning
//
// Items and workers carry a version that increases by one on every
// committed mutation. Commit applies a batch of writes atomically and only
// if every row still holds the version the writer read; otherwise nothing is
// written and Commit reports false. This is the compare-and-swap the guard
// package retries on.
//
// # Deterministic Query Results
//
// Item queries order by arrival, then id (ORDER BY arrived_at ASC, id ASC).
// Event queries order by seq ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
