package cache

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

type view struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func newMemoryCache() *Cache {
	return New(NewMemory(nil), time.Minute, slog.Default())
}

func TestReadThrough_CachesUntilInvalidated(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (view, error) {
		loads++
		return view{ID: "i1", Count: loads}, nil
	}

	v, err := ReadThrough(ctx, c, ItemKey("i1"), load)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Count)

	v, err = ReadThrough(ctx, c, ItemKey("i1"), load)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Count, "second read is a hit")

	require.NoError(t, c.Invalidate(ctx, []domain.EntityRef{{Kind: domain.KindItem, ID: "i1", Category: "renewal"}}))

	v, err = ReadThrough(ctx, c, ItemKey("i1"), load)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Count, "invalidated key reloads")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(3), stats.Invalidations)
}

func TestReadThrough_InvalidatedWhileLoadingIsNotStored(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()
	ref := domain.EntityRef{Kind: domain.KindItem, ID: "i1", Category: "renewal"}

	_, err := ReadThrough(ctx, c, ItemKey("i1"), func(ctx context.Context) (view, error) {
		// a commit lands between the read and the fill
		require.NoError(t, c.Invalidate(ctx, []domain.EntityRef{ref}))
		return view{ID: "stale"}, nil
	})
	require.NoError(t, err)

	v, err := ReadThrough(ctx, c, ItemKey("i1"), func(context.Context) (view, error) {
		return view{ID: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v.ID)
}

func TestReadThrough_FillStateIsPruned(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()

	for _, id := range []string{"i1", "i2", "i3"} {
		_, err := ReadThrough(ctx, c, ItemKey(id), func(ctx context.Context) (view, error) {
			assert.Equal(t, 1, c.keys.Size(), "state exists while the fill is in flight")
			return view{ID: id}, nil
		})
		require.NoError(t, err)
	}
	_, err := ReadThrough(ctx, c, ItemKey("i4"), func(context.Context) (view, error) {
		return view{}, errors.New("boom")
	})
	require.Error(t, err)
	require.NoError(t, c.Invalidate(ctx, []domain.EntityRef{domain.ItemRef("i5")}))

	assert.Zero(t, c.keys.Size())
}

func TestReadThrough_LoadErrorNotCached(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()

	_, err := ReadThrough(ctx, c, "k", func(context.Context) (int, error) {
		return 0, errors.New("store down")
	})
	require.Error(t, err)

	n, err := ReadThrough(ctx, c, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestReadThrough_BackendErrorFallsBackToLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(NewRedis(db, ""), time.Minute, slog.Default())
	ctx := context.Background()

	mock.ExpectGet("queue:length:renewal").SetErr(errors.New("timeout"))
	mock.ExpectSet("queue:length:renewal", []byte("4"), time.Minute).SetErr(errors.New("timeout"))

	n, err := ReadThrough(ctx, c, QueueLengthKey("renewal"), func(context.Context) (int, error) { return 4, nil })
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(2), c.Stats().ReadErrors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate_FailureIsCountedNotFatal(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(NewRedis(db, ""), time.Minute, slog.Default())
	ctx := context.Background()

	mock.ExpectDel("item:i1", "queue:length:renewal", "queue:order").SetErr(errors.New("connection reset"))

	err := c.Invalidate(ctx, []domain.EntityRef{{Kind: domain.KindItem, ID: "i1", Category: "renewal"}})
	require.Error(t, err)
	assert.True(t, domain.IsCacheInvalidation(err))
	assert.Equal(t, int64(1), c.Stats().InvalidationFailures)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate_OnlyDerivedKeys(t *testing.T) {
	m := NewMemory(nil)
	c := New(m, 0, slog.Default())
	ctx := context.Background()

	for _, k := range []string{ItemKey("i1"), ItemKey("i2"), QueueLengthKey("renewal"), QueueLengthKey("emergency"), QueueOrderKey} {
		require.NoError(t, m.Set(ctx, k, []byte("1"), 0))
	}

	require.NoError(t, c.Invalidate(ctx, []domain.EntityRef{{Kind: domain.KindItem, ID: "i1", Category: "renewal"}}))

	for k, want := range map[string]bool{
		ItemKey("i1"):               false,
		QueueLengthKey("renewal"):   false,
		QueueOrderKey:               false,
		ItemKey("i2"):               true,
		QueueLengthKey("emergency"): true,
	} {
		_, ok, err := m.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, ok, k)
	}
}
