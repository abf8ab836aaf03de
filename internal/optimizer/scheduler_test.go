package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/testutil"
)

func TestScheduler_TriggerRunsPass(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.admit(t, testutil.Item("i1", "renewal", 0))
	f.register(t, testutil.Worker("w1"))

	s := NewScheduler(f.opt, 0, Scope{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger()
	s.Trigger()
	require.Eventually(t, func() bool {
		_, runs := s.Last()
		return runs >= 1
	}, time.Second, 5*time.Millisecond)

	last, _ := s.Last()
	assert.Len(t, last.Committed, 1)

	it, err := f.store.ReadItem(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, it.Status)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_Cadence(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	s := NewScheduler(f.opt, 5*time.Millisecond, Scope{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		_, runs := s.Last()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_FailedPassIsNotRecorded(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.store.InsertItem(context.Background(), testutil.Item("x1", "passport", 0))
	require.NoError(t, err)

	s := NewScheduler(f.opt, 0, Scope{})
	s.runOnce(context.Background())

	_, runs := s.Last()
	assert.Zero(t, runs)
}
