package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

// Type is the kind of committed change an event reports.
type Type string

const (
	TypeQueueStateChange   Type = "queue-state-change"
	TypeWorkerStatusChange Type = "worker-status-change"
	TypeAssignmentMade     Type = "assignment-made"
)

// Priority is the delivery class of an event. Lower values are delivered
// first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = [...]string{"critical", "high", "normal", "low"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(priorityNames) {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(priorityNames[p]), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	for i, name := range priorityNames {
		if name == string(b) {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", b)
}

// Payload is a compact snapshot of the entities after the change,
// sufficient to update a dependent view without a follow-up read.
type Payload struct {
	// Transition names the state machine edge, e.g. "assign" or "complete".
	Transition string `json:"transition"`

	Item   *domain.WaitingItem `json:"item,omitempty"`
	Worker *domain.Worker      `json:"worker,omitempty"`

	// Reason is the operator-supplied reason for manual changes.
	Reason string `json:"reason,omitempty"`

	// Specialized is set on assignments; false marks a fallback match.
	Specialized *bool `json:"specialized,omitempty"`

	// Score explains a (re)computed priority score.
	Score *priority.Breakdown `json:"score,omitempty"`
}

// Event is an immutable fact about one committed change.
type Event struct {
	ID          string             `json:"id"`
	Seq         int64              `json:"seq"`
	Type        Type               `json:"type"`
	Priority    Priority           `json:"priority"`
	Entities    []domain.EntityRef `json:"entities"`
	Payload     Payload            `json:"payload"`
	CreatedAt   time.Time          `json:"created_at"`
	RequiresAck bool               `json:"requires_ack,omitempty"`

	// Supersedes lists earlier sequence numbers this delivery replaced by
	// coalescing. Empty in the log; only set on delivered copies.
	Supersedes []int64 `json:"supersedes,omitempty"`
}

// Draft is what a committer publishes; the synchronizer fills in identity,
// sequence and time.
type Draft struct {
	Type        Type
	Priority    Priority
	Entities    []domain.EntityRef
	Payload     Payload
	RequiresAck bool
}

// coalescable reports whether the event may be merged with a later one.
func (e Event) coalescable() bool {
	return e.Priority != PriorityCritical && !e.RequiresAck
}

// coalesceKey groups events that describe the same entities.
func (e Event) coalesceKey() string {
	key := string(e.Type)
	for _, r := range e.Entities {
		key += "|" + r.Key()
	}
	return key
}

func encodeRecord(ev Event) (store.EventRecord, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return store.EventRecord{}, fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	return store.EventRecord{
		Seq:       ev.Seq,
		ID:        ev.ID,
		Type:      string(ev.Type),
		Body:      body,
		CreatedAt: ev.CreatedAt,
	}, nil
}

// DecodeRecord restores a journaled event.
func DecodeRecord(rec store.EventRecord) (Event, error) {
	var ev Event
	if err := json.Unmarshal(rec.Body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event %d: %w", rec.Seq, err)
	}
	if ev.Seq != rec.Seq {
		return Event{}, fmt.Errorf("decode event %d: body carries seq %d", rec.Seq, ev.Seq)
	}
	return ev, nil
}
