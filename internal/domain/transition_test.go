package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair() (*WaitingItem, *Worker) {
	return &WaitingItem{ID: "i1", Category: "standard", Status: StatusWaiting},
		&Worker{ID: "w1", Availability: AvailabilityAvailable}
}

func TestTransition_HappyPath(t *testing.T) {
	item, w := newPair()

	require.NoError(t, Assign(item, w))
	assert.Equal(t, StatusAssigned, item.Status)
	assert.Equal(t, "w1", item.WorkerID)
	assert.Equal(t, AvailabilityBusy, w.Availability)
	assert.Equal(t, "i1", w.CurrentItemID)
	assert.Equal(t, 1, w.Load)

	require.NoError(t, Start(item, w))
	assert.Equal(t, StatusInService, item.Status)

	require.NoError(t, Complete(item, w))
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Empty(t, item.WorkerID, "terminal items hold no worker")
	assert.Equal(t, AvailabilityAvailable, w.Availability)
	assert.Empty(t, w.CurrentItemID)
	assert.Equal(t, 0, w.Load)
	assert.True(t, item.Status.Terminal())
}

func TestTransition_Unassign(t *testing.T) {
	item, w := newPair()
	require.NoError(t, Assign(item, w))

	require.NoError(t, Unassign(item, w, AvailabilityOffline))
	assert.Equal(t, StatusWaiting, item.Status)
	assert.Empty(t, item.WorkerID)
	assert.Equal(t, AvailabilityOffline, w.Availability)
	assert.Empty(t, w.CurrentItemID)
}

func TestTransition_Unassign_RejectsBusyTarget(t *testing.T) {
	item, w := newPair()
	require.NoError(t, Assign(item, w))

	err := Unassign(item, w, AvailabilityBusy)
	require.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
	assert.Equal(t, StatusAssigned, item.Status, "failed transition must not mutate")
}

func TestTransition_NoShowOnlyFromAssigned(t *testing.T) {
	item, w := newPair()

	err := MarkNoShow(item, w)
	require.Error(t, err, "waiting -> no_show is not an edge")
	assert.True(t, IsIllegalTransition(err))

	require.NoError(t, Assign(item, w))
	require.NoError(t, MarkNoShow(item, w))
	assert.Equal(t, StatusNoShow, item.Status)
	assert.Equal(t, AvailabilityAvailable, w.Availability)
}

func TestTransition_IllegalEdges(t *testing.T) {
	tests := []struct {
		name string
		from Status
		fn   func(*WaitingItem, *Worker) error
	}{
		{"assign assigned", StatusAssigned, Assign},
		{"assign completed", StatusCompleted, Assign},
		{"start waiting", StatusWaiting, Start},
		{"complete assigned", StatusAssigned, Complete},
		{"cancel assigned", StatusAssigned, func(i *WaitingItem, _ *Worker) error { return Cancel(i) }},
		{"cancel cancelled", StatusCancelled, func(i *WaitingItem, _ *Worker) error { return Cancel(i) }},
		{"rescore in service", StatusInService, func(i *WaitingItem, _ *Worker) error { return Rescore(i, 10) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, w := newPair()
			item.Status = tt.from
			before := *item

			err := tt.fn(item, w)
			require.Error(t, err)
			assert.True(t, IsIllegalTransition(err))
			assert.Equal(t, before, *item)
		})
	}
}

func TestTransition_AssignRequiresAvailableWorker(t *testing.T) {
	for _, a := range []Availability{AvailabilityOffline, AvailabilityBusy, AvailabilityOnBreak} {
		t.Run(string(a), func(t *testing.T) {
			item, w := newPair()
			w.Availability = a

			err := Assign(item, w)
			require.Error(t, err)
			assert.Equal(t, StatusWaiting, item.Status)
		})
	}
}

func TestTransition_StartByOtherWorker(t *testing.T) {
	item, w := newPair()
	require.NoError(t, Assign(item, w))

	other := &Worker{ID: "w2", Availability: AvailabilityAvailable}
	err := Start(item, other)
	require.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
}

func TestSetAvailability(t *testing.T) {
	w := &Worker{ID: "w1", Availability: AvailabilityOffline}

	require.NoError(t, SetAvailability(w, AvailabilityAvailable))
	require.NoError(t, SetAvailability(w, AvailabilityOnBreak))

	err := SetAvailability(w, AvailabilityBusy)
	assert.True(t, IsIllegalTransition(err), "busy only reachable through Assign")

	w.Availability = AvailabilityBusy
	w.CurrentItemID = "i1"
	err = SetAvailability(w, AvailabilityOffline)
	assert.True(t, IsIllegalTransition(err), "busy worker must release its item first")
}

func TestClone_DoesNotAlias(t *testing.T) {
	item := WaitingItem{ID: "i1", Factors: []Factor{FactorElderly}}
	c := item.Clone()
	c.Factors[0] = FactorPregnancy
	assert.Equal(t, FactorElderly, item.Factors[0])

	w := Worker{ID: "w1", Specializations: []Category{"renewal"}}
	cw := w.Clone()
	cw.Specializations[0] = "other"
	assert.Equal(t, Category("renewal"), w.Specializations[0])
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Category("emergency"), NormalizeCategory("  Emergency "))
	assert.Equal(t, Category("new_application"), NormalizeCategory("NEW_APPLICATION"))
	assert.Equal(t, FactorPregnancy, NormalizeFactor("Pregnancy"))
}
