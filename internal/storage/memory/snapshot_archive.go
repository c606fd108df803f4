// Package memory provides in-memory store implementations, used by
// tests and by no_cache runs that still want single-run persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"subnetctl/internal/domain"
	"subnetctl/internal/storage"
)

// SnapshotArchive is an in-memory implementation of
// storage.SnapshotArchive.
type SnapshotArchive struct {
	mu    sync.RWMutex
	byNet map[uint16]map[uint64]*domain.MetagraphSnapshot
}

// NewSnapshotArchive creates an empty in-memory archive.
func NewSnapshotArchive() *SnapshotArchive {
	return &SnapshotArchive{byNet: make(map[uint16]map[uint64]*domain.MetagraphSnapshot)}
}

// Put stores a copy of the snapshot.
func (a *SnapshotArchive) Put(_ context.Context, snap *domain.MetagraphSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}
	cp := copySnapshot(snap)

	a.mu.Lock()
	defer a.mu.Unlock()
	blocks, ok := a.byNet[snap.NetUID]
	if !ok {
		blocks = make(map[uint64]*domain.MetagraphSnapshot)
		a.byNet[snap.NetUID] = blocks
	}
	blocks[snap.BlockNumber] = cp
	return nil
}

// Latest returns the highest-block snapshot for netuid.
func (a *SnapshotArchive) Latest(_ context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	blocks, ok := a.byNet[netuid]
	if !ok || len(blocks) == 0 {
		return nil, storage.ErrNotFound
	}
	var best uint64
	for b := range blocks {
		if b >= best {
			best = b
		}
	}
	return copySnapshot(blocks[best]), nil
}

// At returns the snapshot for (netuid, block).
func (a *SnapshotArchive) At(_ context.Context, netuid uint16, block uint64) (*domain.MetagraphSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.byNet[netuid][block]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(snap), nil
}

// Blocks lists stored block numbers for netuid in ascending order.
func (a *SnapshotArchive) Blocks(_ context.Context, netuid uint16) ([]uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	blocks := a.byNet[netuid]
	out := make([]uint64, 0, len(blocks))
	for b := range blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Close is a no-op for the in-memory archive.
func (a *SnapshotArchive) Close() error { return nil }

func copySnapshot(snap *domain.MetagraphSnapshot) *domain.MetagraphSnapshot {
	cp := *snap
	cp.Neurons = make([]domain.NeuronRecord, len(snap.Neurons))
	copy(cp.Neurons, snap.Neurons)
	return &cp
}
