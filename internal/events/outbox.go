package events

import (
	"container/heap"
	"time"
)

// queued is one event waiting in a subscriber outbox.
type queued struct {
	ev    Event
	first time.Time // creation time of the first event merged into this slot
	index int       // heap index, -1 once popped
}

// outbox orders pending deliveries by priority class, then sequence.
// It implements heap.Interface.
type outbox []*queued

func (o outbox) Len() int { return len(o) }

func (o outbox) Less(i, j int) bool {
	if o[i].ev.Priority != o[j].ev.Priority {
		return o[i].ev.Priority < o[j].ev.Priority
	}
	return o[i].ev.Seq < o[j].ev.Seq
}

func (o outbox) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *outbox) Push(x any) {
	q := x.(*queued)
	q.index = len(*o)
	*o = append(*o, q)
}

func (o *outbox) Pop() any {
	old := *o
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.index = -1
	*o = old[:n-1]
	return q
}

var _ heap.Interface = (*outbox)(nil)
