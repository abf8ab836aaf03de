// Package cache holds derived read views and evicts them when the entities
// they were computed from change.
//
// Each entity maps to a declared set of cache keys (see Keys). Invalidate
// removes exactly those keys; there is no blanket flush. Invalidation
// failures are counted and logged but never returned as fatal, since a
// stale view is a degraded read and the committed mutation is unaffected.
package cache
