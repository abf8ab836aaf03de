// Package guard is the only writer path for items and workers.
//
// A guarded mutation names the entities it touches up front. The guard
//
//  1. serializes in-process callers on exactly those entities, taking
//     per-entity locks in key order so overlapping sets cannot deadlock;
//  2. loads a consistent snapshot and hands working copies to the mutation;
//  3. commits every entity in the set with a compare-and-swap on the
//     versions it loaded;
//  4. on a version mismatch, reloads and retries with exponential backoff
//     up to a fixed count, then fails with a conflict error.
//
// Mutations on disjoint entity sets never wait for each other. Version
// contention from other processes sharing the store is resolved by step 4.
package guard
