package events

// ackTracker resolves once every subscriber that received an
// acknowledgment-required event has acknowledged it, failed, or left.
type ackTracker struct {
	owed map[string]bool
	err  error
	done chan struct{}
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		owed: make(map[string]bool),
		done: make(chan struct{}),
	}
}

func (t *ackTracker) owe(subID string) { t.owed[subID] = true }

func (t *ackTracker) owes(subID string) bool { return t.owed[subID] }

// settle records the outcome for one subscriber. The first error sticks.
func (t *ackTracker) settle(subID string, err error) {
	if !t.owed[subID] {
		return
	}
	delete(t.owed, subID)
	if err != nil && t.err == nil {
		t.err = err
	}
	t.finishIfSettled()
}

func (t *ackTracker) finishIfSettled() {
	if len(t.owed) > 0 {
		return
	}
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
