package metagraph

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"subnetctl/internal/domain"
	"subnetctl/internal/storage"
)

// DefaultTTL is how long a cached snapshot serves reads before a
// refresh is forced.
const DefaultTTL = 60 * time.Second

// SnapshotSource fetches a fresh snapshot for one subnet.
type SnapshotSource interface {
	Fetch(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error)
}

// GetOptions tune one cache read.
type GetOptions struct {
	// ForceRefresh bypasses any cached entry.
	ForceRefresh bool
	// MaxAge caps acceptable staleness below the cache TTL. Zero means
	// the TTL alone decides.
	MaxAge time.Duration
}

// cacheEntry pairs a snapshot with its expiry. Replaced wholesale on
// refresh, never partially updated.
type cacheEntry struct {
	snap      *domain.MetagraphSnapshot
	expiresAt time.Time
}

// Cache serves metagraph snapshots with a staleness policy. Concurrent
// reads for the same subnet during a refresh share one in-flight fetch.
// Callers receive shared read-only snapshots and must not mutate them.
type Cache struct {
	source  SnapshotSource
	archive storage.SnapshotArchive // optional, nil disables archiving
	ttl     time.Duration
	noCache bool
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[uint16]cacheEntry
	group   singleflight.Group

	now func() time.Time
}

// NewCache creates a Cache over the given source. A nil archive
// disables persistence. noCache forces every read to refresh.
func NewCache(source SnapshotSource, archive storage.SnapshotArchive, ttl time.Duration, noCache bool, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		source:  source,
		archive: archive,
		ttl:     ttl,
		noCache: noCache,
		log:     log.With().Str("component", "metagraph").Logger(),
		entries: make(map[uint16]cacheEntry),
		now:     time.Now,
	}
	return c
}

// Get returns the subnet's snapshot, serving a cached copy while it is
// fresh and refreshing otherwise. At most one refresh per netuid runs
// at a time; concurrent callers share its result.
func (c *Cache) Get(ctx context.Context, netuid uint16, opts GetOptions) (*domain.MetagraphSnapshot, error) {
	if !opts.ForceRefresh && !c.noCache {
		if snap, ok := c.lookup(netuid, opts.MaxAge); ok {
			return snap, nil
		}
	}

	v, err, _ := c.group.Do(strconv.Itoa(int(netuid)), func() (any, error) {
		snap, err := c.source.Fetch(ctx, netuid)
		if err != nil {
			return nil, err
		}
		c.store(netuid, snap)
		if c.archive != nil {
			if aerr := c.archive.Put(ctx, snap); aerr != nil {
				c.log.Warn().Err(aerr).Uint16("netuid", netuid).Msg("snapshot archive write failed")
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.MetagraphSnapshot), nil
}

// Offline returns the most recent archived snapshot for netuid without
// touching the chain.
func (c *Cache) Offline(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	if c.archive == nil {
		return nil, storage.ErrNotFound
	}
	return c.archive.Latest(ctx, netuid)
}

// Invalidate drops any cached entry for netuid.
func (c *Cache) Invalidate(netuid uint16) {
	c.mu.Lock()
	delete(c.entries, netuid)
	c.mu.Unlock()
}

func (c *Cache) lookup(netuid uint16, maxAge time.Duration) (*domain.MetagraphSnapshot, bool) {
	c.mu.Lock()
	entry, ok := c.entries[netuid]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		return nil, false
	}
	if maxAge > 0 && now.Sub(entry.snap.FetchedAt) > maxAge {
		return nil, false
	}
	return entry.snap, true
}

func (c *Cache) store(netuid uint16, snap *domain.MetagraphSnapshot) {
	c.mu.Lock()
	c.entries[netuid] = cacheEntry{snap: snap, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// IsNotFound reports whether err is the archive's miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
