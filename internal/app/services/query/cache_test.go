package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/storage"
	"github.com/feedmesh/cachenode/internal/app/storage/memory"
)

// countingStore wraps a PackageStore and counts aggregation calls, optionally
// holding them on a gate channel.
type countingStore struct {
	storage.PackageStore
	latestCalls atomic.Int64
	entered     chan struct{}
	release     chan struct{}
}

func (c *countingStore) LatestPerSignerAndFeed(ctx context.Context, dataServiceID string, w storage.Window) ([]datapackage.CachedPackage, error) {
	c.latestCalls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}
	return c.PackageStore.LatestPerSignerAndFeed(ctx, dataServiceID, w)
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	now := time.Now().UnixMilli()
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", now-1000),
	})
	require.NoError(t, err)
	return store
}

func TestCache_ConcurrentCallersShareOneQuery(t *testing.T) {
	counting := &countingStore{
		PackageStore: seedStore(t),
		entered:      make(chan struct{}, 2),
		release:      make(chan struct{}),
	}
	svc := New(counting, time.Minute, 3*time.Minute, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[0] = svc.LatestDataPackages(context.Background(), "prod")
	}()

	// Wait until the first caller is inside the store query, then race a
	// second caller against it before releasing the gate.
	<-counting.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[1] = svc.LatestDataPackages(context.Background(), "prod")
	}()
	time.Sleep(50 * time.Millisecond)
	close(counting.release)
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	// The second caller either joined the in-flight computation or hit the
	// fresh entry it produced; both outcomes mean one underlying query.
	assert.Equal(t, int64(1), counting.latestCalls.Load())
}

func TestCache_ServesWithinTTLAndRecomputesAfter(t *testing.T) {
	counting := &countingStore{PackageStore: seedStore(t)}

	clock := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	svc := New(counting, 10*time.Second, 3*time.Minute, nil, WithClock(now))

	_, err := svc.LatestDataPackages(context.Background(), "prod")
	require.NoError(t, err)
	_, err = svc.LatestDataPackages(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counting.latestCalls.Load(), "second call within ttl must be served from cache")

	advance(11 * time.Second)
	_, err = svc.LatestDataPackages(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.latestCalls.Load(), "call after ttl must recompute")
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	store := memory.New()
	counting := &countingStore{PackageStore: store}
	svc := New(counting, time.Minute, 3*time.Minute, nil)

	_, err := svc.LatestDataPackages(context.Background(), "prod")
	require.Error(t, err)
	assert.True(t, errors.Is(err, datapackage.ErrEmptyResponse))

	now := time.Now().UnixMilli()
	require.NoError(t, store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", now-1000),
	}))

	resp, err := svc.LatestDataPackages(context.Background(), "prod")
	require.NoError(t, err, "the empty-response failure must not be cached")
	assert.Len(t, resp["ETH"], 1)
	assert.Equal(t, int64(2), counting.latestCalls.Load())
}

func TestCache_StrategiesUseSeparateEntries(t *testing.T) {
	store := seedStore(t)
	svc := New(store, time.Minute, 3*time.Minute, nil)

	_, err := svc.LatestDataPackages(context.Background(), "prod")
	require.NoError(t, err)
	_, err = svc.ConsensusDataPackages(context.Background(), "prod")
	require.NoError(t, err)

	// Different partitions do not collide either.
	_, err = svc.LatestDataPackages(context.Background(), "other")
	assert.True(t, errors.Is(err, datapackage.ErrEmptyResponse))
}
