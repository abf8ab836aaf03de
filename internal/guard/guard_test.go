package guard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testConfig() config.Guard {
	return config.Guard{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, items []string, workers []string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range items {
		_, err := s.InsertItem(ctx, domain.WaitingItem{ID: id, Category: "renewal", ArrivedAt: t0, Status: domain.StatusWaiting})
		require.NoError(t, err)
	}
	for _, id := range workers {
		_, err := s.InsertWorker(ctx, domain.Worker{ID: id, Availability: domain.AvailabilityAvailable})
		require.NoError(t, err)
	}
}

// flakyStore loses the CAS race a fixed number of times.
type flakyStore struct {
	*store.Store
	failures atomic.Int32
	commits  atomic.Int32
}

func (f *flakyStore) Commit(ctx context.Context, writes []store.Write) (bool, error) {
	f.commits.Add(1)
	if f.failures.Add(-1) >= 0 {
		return false, nil
	}
	return f.Store.Commit(ctx, writes)
}

func TestDo_CommitsAndBumpsVersions(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, []string{"w1"})
	g := New(s, testConfig())
	ctx := context.Background()

	refs := []domain.EntityRef{domain.WorkerRef("w1"), domain.ItemRef("i1")}
	it, err := Do(ctx, g, refs, func(tx *Tx) (*domain.WaitingItem, error) {
		it, err := tx.Item("i1")
		if err != nil {
			return nil, err
		}
		w, err := tx.Worker("w1")
		if err != nil {
			return nil, err
		}
		return it, domain.Assign(it, w)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), it.Version)
	assert.Equal(t, domain.StatusAssigned, it.Status)

	stored, err := s.ReadItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, *it, stored)

	assert.Equal(t, Stats{Commits: 1}, g.Stats())
}

func TestDo_RetriesAfterLostRace(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	fs := &flakyStore{Store: s}
	fs.failures.Store(2)
	g := New(fs, testConfig())

	calls := 0
	_, err := Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (struct{}, error) {
		calls++
		it, err := tx.Item("i1")
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, domain.Rescore(it, 999)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, Stats{Commits: 1, Conflicts: 2, Retries: 2}, g.Stats())
}

func TestDo_OnCommitRunsOnlyForCommittedAttempt(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	fs := &flakyStore{Store: s}
	fs.failures.Store(1)
	g := New(fs, testConfig())

	var fired []int
	attempt := 0
	_, err := Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (struct{}, error) {
		attempt++
		n := attempt
		tx.OnCommit(func() { fired = append(fired, n) })
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, fired)

	_, err = Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (struct{}, error) {
		tx.OnCommit(func() { fired = append(fired, -1) })
		return struct{}{}, errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, []int{2}, fired)
}

func TestDo_ExhaustedRetriesIsConflict(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	fs := &flakyStore{Store: s}
	fs.failures.Store(100)
	g := New(fs, testConfig())

	_, err := Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	assert.Contains(t, err.Error(), "item:i1")
	assert.Equal(t, int32(4), fs.commits.Load(), "one attempt plus three retries")
	assert.Equal(t, int64(1), g.Stats().Exhausted)
}

func TestDo_MutationErrorAborts(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	g := New(s, testConfig())
	ctx := context.Background()

	_, err := Do(ctx, g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (int, error) {
		it, err := tx.Item("i1")
		if err != nil {
			return 0, err
		}
		it.Score = 5
		// completing a waiting item is not an edge
		return 0, domain.Complete(it, &domain.Worker{ID: "w1"})
	})
	require.Error(t, err)
	assert.True(t, domain.IsIllegalTransition(err))

	stored, err := s.ReadItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, int64(0), stored.Score)
}

func TestDo_ErrRetry(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	g := New(s, testConfig())

	calls := 0
	_, err := Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (int, error) {
		calls++
		if calls < 2 {
			return 0, ErrRetry
		}
		return calls, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NotFound(t *testing.T) {
	s := openStore(t)
	g := New(s, testConfig())

	_, err := Do(context.Background(), g, []domain.EntityRef{domain.ItemRef("ghost")}, func(tx *Tx) (int, error) {
		return 0, nil
	})
	assert.True(t, domain.IsNotFound(err))
}

func TestDo_ConcurrentNoLostUpdates(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	g := New(s, testConfig())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Do(ctx, g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (int, error) {
				it, err := tx.Item("i1")
				if err != nil {
					return 0, err
				}
				return 0, domain.Rescore(it, it.Score+1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := s.ReadItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), stored.Score)
	assert.Equal(t, int64(n+1), stored.Version)
}

func TestDo_DisjointSetsRunInParallel(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"a", "b"}, nil)
	g := New(s, testConfig())
	ctx := context.Background()

	inA := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Do(ctx, g, []domain.EntityRef{domain.ItemRef("a")}, func(tx *Tx) (int, error) {
			select {
			case inA <- struct{}{}:
			default:
			}
			<-release
			return 0, nil
		})
		done <- err
	}()
	<-inA

	// "a" is held; a mutation on "b" must still complete.
	finished := make(chan error, 1)
	go func() {
		_, err := Do(ctx, g, []domain.EntityRef{domain.ItemRef("b")}, func(tx *Tx) (int, error) {
			return 0, nil
		})
		finished <- err
	}()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("mutation on b blocked behind a")
	}
	close(release)
	require.NoError(t, <-done)
}

func TestDo_LockTableIsPruned(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		refs    []domain.EntityRef
		err     error
	}{
		{name: "single", workers: 1, refs: []domain.EntityRef{domain.ItemRef("a")}},
		{name: "contended", workers: 16, refs: []domain.EntityRef{domain.ItemRef("a"), domain.ItemRef("b")}},
		{name: "aborted", workers: 4, refs: []domain.EntityRef{domain.ItemRef("b")}, err: errors.New("rejected")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			seed(t, s, []string{"a", "b"}, nil)
			g := New(s, testConfig())

			var wg sync.WaitGroup
			for range tt.workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := Do(context.Background(), g, tt.refs, func(tx *Tx) (int, error) {
						assert.GreaterOrEqual(t, g.locks.Size(), len(tt.refs))
						return 0, tt.err
					})
					if tt.err == nil {
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()

			assert.Zero(t, g.locks.Size())
		})
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	s := openStore(t)
	seed(t, s, []string{"i1"}, nil)
	fs := &flakyStore{Store: s}
	fs.failures.Store(100)
	g := New(fs, config.Guard{MaxRetries: 10, BaseBackoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, g, []domain.EntityRef{domain.ItemRef("i1")}, func(tx *Tx) (int, error) {
		return 0, nil
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBackoff(t *testing.T) {
	g := New(nil, config.Guard{MaxRetries: 5, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, g.backoff(i), "attempt %d", i)
	}
}

func TestDedupe(t *testing.T) {
	refs := dedupe([]domain.EntityRef{
		domain.WorkerRef("w1"),
		domain.ItemRef("i2"),
		{Kind: domain.KindItem, ID: "i1", Category: "renewal"},
		domain.ItemRef("i2"),
	})
	var keys []string
	for _, r := range refs {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"item:i1", "item:i2", "worker:w1"}, keys)
}
