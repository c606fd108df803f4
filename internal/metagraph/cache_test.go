package metagraph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subnetctl/internal/domain"
	"subnetctl/internal/storage"
	"subnetctl/internal/storage/memory"
)

// countingSource serves scripted snapshots and counts fetches.
type countingSource struct {
	fetches atomic.Int64
	block   atomic.Uint64
	err     error

	// release, when set, blocks fetches until closed.
	release chan struct{}
}

func (s *countingSource) Fetch(_ context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	s.fetches.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return &domain.MetagraphSnapshot{
		NetUID:      netuid,
		BlockNumber: s.block.Load(),
		FetchedAt:   time.Now(),
		Neurons:     []domain.NeuronRecord{{UID: 0, Stake: 1}},
	}, nil
}

func TestCacheServesFreshEntry(t *testing.T) {
	source := &countingSource{}
	source.block.Store(100)
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	first, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), first.BlockNumber)

	source.block.Store(200)
	second, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	assert.Same(t, first, second, "fresh entry should be served without refetching")
	assert.Equal(t, int64(1), source.fetches.Load())
}

func TestCacheExpiryTriggersRefresh(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheForceRefresh(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), 1, GetOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheMaxAgeTighterThanTTL(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Hour, false, zerolog.Nop())

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)

	// Entry is within TTL but older than the caller's tolerance.
	time.Sleep(5 * time.Millisecond)
	_, err = c.Get(context.Background(), 1, GetOptions{MaxAge: time.Nanosecond})
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheNoCacheModeAlwaysFetches(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Minute, true, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), 1, GetOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), source.fetches.Load())
}

func TestCacheSingleFlight(t *testing.T) {
	source := &countingSource{release: make(chan struct{})}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	const readers = 8
	var wg sync.WaitGroup
	results := make([]*domain.MetagraphSnapshot, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.Get(context.Background(), 1, GetOptions{})
			if assert.NoError(t, err) {
				results[i] = snap
			}
		}(i)
	}

	// Let the readers pile up on the in-flight fetch, then release it.
	assert.Eventually(t, func() bool { return source.fetches.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()

	assert.Equal(t, int64(1), source.fetches.Load(), "concurrent cold reads must share one fetch")
	for i := 1; i < readers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestCachePerNetuidIsolation(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	a, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	b, err := c.Get(context.Background(), 2, GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint16(1), a.NetUID)
	assert.Equal(t, uint16(2), b.NetUID)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheFetchErrorNotCached(t *testing.T) {
	source := &countingSource{err: errors.New("node unreachable")}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.Error(t, err)

	source.err = nil
	snap, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheInvalidate(t *testing.T) {
	source := &countingSource{}
	c := NewCache(source, nil, time.Minute, false, zerolog.Nop())

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	c.Invalidate(1)
	_, err = c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.fetches.Load())
}

func TestCacheArchivesRefreshes(t *testing.T) {
	source := &countingSource{}
	source.block.Store(42)
	archive := memory.NewSnapshotArchive()
	c := NewCache(source, archive, time.Minute, false, zerolog.Nop())

	_, err := c.Get(context.Background(), 1, GetOptions{})
	require.NoError(t, err)

	stored, err := archive.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), stored.BlockNumber)
}

func TestCacheOffline(t *testing.T) {
	archive := memory.NewSnapshotArchive()
	require.NoError(t, archive.Put(context.Background(), &domain.MetagraphSnapshot{
		NetUID:      3,
		BlockNumber: 7,
		Neurons:     []domain.NeuronRecord{{UID: 0}},
	}))

	c := NewCache(&countingSource{}, archive, time.Minute, false, zerolog.Nop())
	snap, err := c.Offline(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.BlockNumber)

	_, err = c.Offline(context.Background(), 9)
	assert.True(t, IsNotFound(err))
}

func TestCacheOfflineWithoutArchive(t *testing.T) {
	c := NewCache(&countingSource{}, nil, time.Minute, false, zerolog.Nop())
	_, err := c.Offline(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
