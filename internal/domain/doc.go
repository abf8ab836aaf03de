// Package domain provides the entity types shared by the queue core.
//
// This package contains type definitions, the WaitingItem state machine and
// the error taxonomy. All other internal packages import domain; domain
// imports nothing internal.
//
// Key design constraints:
//   - Scores and versions are int64, never floats
//   - Status changes go through one transition function per legal edge;
//     there is no generic "set status"
//   - A non-empty WorkerID on an item implies status assigned or in_service
//   - A non-empty CurrentItemID on a worker implies availability busy
//   - All JSON tags use snake_case
package domain
