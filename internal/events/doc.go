// Package events turns committed mutations into an ordered, replayable
// event stream.
//
// # Ordering
//
// Every committed mutation is published exactly once. Its sequence number
// is assigned when it enters the retention log, under the same lock, so
// the log never shows a gap and an aborted commit never consumes a number.
//
// # Delivery
//
// Each subscription has a bounded outbox ordered by priority class, then
// sequence. Critical and high events therefore overtake queued normal and
// low ones. Non-critical events without acknowledgment that touch the same
// entities within the coalescing window replace each other in the outbox
// (last state wins); the survivor lists the sequence numbers it replaced
// in Supersedes.
//
// A subscriber that falls behind far enough to fill its outbox is not
// blocked on; the event is dropped for that subscriber and its next read
// returns ErrResync. It must then replay from its watermark.
//
// # Acknowledgment
//
// Events that require acknowledgment are redelivered with exponential
// backoff until acknowledged, until the attempt limit, or until they leave
// the retention window. The latter two mark the event undeliverable for
// that subscriber, which then also receives ErrResync.
//
// # Deduplication
//
// Because priority classes reorder delivery, a single highest-seen number
// would discard legitimately late events. Watermark tracks a contiguous
// low-water mark plus the sparse set applied above it.
package events
