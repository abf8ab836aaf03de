package events

import "sync/atomic"

// Sequencer issues strictly increasing event sequence numbers.
//
// The synchronizer calls Next and Observe only while holding its log lock,
// so numbers enter the log in the order they are issued.
//
// Thread-safety: Sequencer is safe for concurrent use (atomic operations).
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencer creates a sequencer whose first number is 1.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// NewSequencerAt creates a sequencer that continues after start.
// Used to resume from the journal after a restart.
func NewSequencerAt(start int64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.seq.Add(1)
}

// Observe moves the sequencer forward to seq, for numbers issued
// elsewhere (the journal). It never moves backwards.
func (s *Sequencer) Observe(seq int64) {
	for {
		cur := s.seq.Load()
		if seq <= cur || s.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Current returns the last issued number, or the start value.
func (s *Sequencer) Current() int64 {
	return s.seq.Load()
}
