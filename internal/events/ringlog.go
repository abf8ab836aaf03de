package events

import (
	"sort"
	"time"
)

// ringLog retains the most recent events in sequence order. It is a
// fixed-capacity circular buffer; appending to a full log evicts the
// oldest event.
//
// Not safe for concurrent use; the synchronizer serializes access.
type ringLog struct {
	data     []Event
	capacity int
	// head is the index of the oldest retained event.
	head int
	size int
}

func newRingLog(capacity int) *ringLog {
	if capacity < 1 {
		capacity = 1
	}
	return &ringLog{
		data:     make([]Event, capacity),
		capacity: capacity,
	}
}

// at returns the i-th oldest retained event.
func (r *ringLog) at(i int) Event {
	return r.data[(r.head+i)%r.capacity]
}

// append adds ev and returns the evicted event, if any.
func (r *ringLog) append(ev Event) (Event, bool) {
	if r.size < r.capacity {
		r.data[(r.head+r.size)%r.capacity] = ev
		r.size++
		return Event{}, false
	}
	evicted := r.data[r.head]
	r.data[r.head] = ev
	r.head = (r.head + 1) % r.capacity
	return evicted, true
}

func (r *ringLog) oldest() (Event, bool) {
	if r.size == 0 {
		return Event{}, false
	}
	return r.at(0), true
}

// after returns copies of retained events with Seq > seq, ascending.
func (r *ringLog) after(seq int64) []Event {
	start := sort.Search(r.size, func(i int) bool { return r.at(i).Seq > seq })
	out := make([]Event, 0, r.size-start)
	for i := start; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// dropBefore evicts events created before cutoff and returns them.
func (r *ringLog) dropBefore(cutoff time.Time) []Event {
	var dropped []Event
	for r.size > 0 && r.data[r.head].CreatedAt.Before(cutoff) {
		dropped = append(dropped, r.data[r.head])
		r.data[r.head] = Event{}
		r.head = (r.head + 1) % r.capacity
		r.size--
	}
	return dropped
}

func (r *ringLog) len() int { return r.size }
