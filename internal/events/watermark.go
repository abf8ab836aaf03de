package events

// Watermark tracks which sequence numbers a subscriber has applied.
//
// Events arrive in priority order, so a subscriber may see seq 12 before
// seq 10. Low is the highest seq below which nothing is missing; it is the
// position to replay from after a disconnect. Apply reports false for
// events already applied, which makes replay overlap harmless.
//
// Not safe for concurrent use.
type Watermark struct {
	low   int64
	above map[int64]struct{}
}

// NewWatermark starts tracking after seq start (0 for a fresh subscriber).
func NewWatermark(start int64) *Watermark {
	return &Watermark{low: start, above: make(map[int64]struct{})}
}

// Applied reports whether seq was already applied.
func (w *Watermark) Applied(seq int64) bool {
	if seq <= w.low {
		return true
	}
	_, ok := w.above[seq]
	return ok
}

// Apply records ev and every sequence it supersedes. It reports whether
// ev itself was new.
func (w *Watermark) Apply(ev Event) bool {
	if w.Applied(ev.Seq) {
		return false
	}
	w.mark(ev.Seq)
	for _, seq := range ev.Supersedes {
		w.mark(seq)
	}
	return true
}

// Low returns the contiguous high-water mark.
func (w *Watermark) Low() int64 { return w.low }

func (w *Watermark) mark(seq int64) {
	if seq <= w.low {
		return
	}
	w.above[seq] = struct{}{}
	for {
		if _, ok := w.above[w.low+1]; !ok {
			return
		}
		delete(w.above, w.low+1)
		w.low++
	}
}
