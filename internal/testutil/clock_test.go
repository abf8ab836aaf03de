package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	assert.Equal(t, Epoch.Add(time.Minute), clock.Advance(time.Minute))
	assert.Equal(t, Epoch.Add(time.Minute), clock.Advance(-time.Hour))
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())

	clock.Set(Epoch)
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(100*time.Second), clock.Now())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "evt-0001", ids.Generate())
	assert.Equal(t, "evt-0002", ids.Generate())

	named := NewSequentialIDs("item")
	assert.Equal(t, "item-0001", named.Generate())
}

func TestItems(t *testing.T) {
	items := Items("r", "renewal", 3)
	assert.Len(t, items, 3)
	assert.Equal(t, "r-002", items[2].ID)
	assert.Equal(t, Epoch.Add(2*time.Minute), items[2].ArrivedAt)
}
