// Package pebblestore implements the snapshot archive on a local
// pebble database under the wallet path root.
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"subnetctl/internal/domain"
	"subnetctl/internal/storage"
)

// keyPrefix namespaces snapshot keys: prefix | netuid BE16 | block BE64.
var keyPrefix = []byte("mg/")

// SnapshotArchive is a pebble-backed storage.SnapshotArchive.
type SnapshotArchive struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*SnapshotArchive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open snapshot archive: %w", err)
	}
	return &SnapshotArchive{db: db}, nil
}

// Put stores a snapshot keyed by (netuid, block).
func (a *SnapshotArchive) Put(_ context.Context, snap *domain.MetagraphSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}
	value, err := json.Marshal(toRecord(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	return a.db.Set(snapshotKey(snap.NetUID, snap.BlockNumber), value, pebble.Sync)
}

// Latest returns the highest-block snapshot for netuid.
func (a *SnapshotArchive) Latest(_ context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}

	iter, err := a.db.NewIter(netuidBounds(netuid))
	if err != nil {
		return nil, fmt.Errorf("archive iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, storage.ErrNotFound
	}
	return decodeRecord(iter.Value())
}

// At returns the snapshot for (netuid, block).
func (a *SnapshotArchive) At(_ context.Context, netuid uint16, block uint64) (*domain.MetagraphSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}

	value, closer, err := a.db.Get(snapshotKey(netuid, block))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive get: %w", err)
	}
	defer closer.Close()
	return decodeRecord(value)
}

// Blocks lists stored block numbers for netuid in ascending order.
func (a *SnapshotArchive) Blocks(_ context.Context, netuid uint16) ([]uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}

	iter, err := a.db.NewIter(netuidBounds(netuid))
	if err != nil {
		return nil, fmt.Errorf("archive iterator: %w", err)
	}
	defer iter.Close()

	var out []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		out = append(out, binary.BigEndian.Uint64(key[len(key)-8:]))
	}
	return out, nil
}

// Close closes the underlying database.
func (a *SnapshotArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func snapshotKey(netuid uint16, block uint64) []byte {
	key := make([]byte, 0, len(keyPrefix)+10)
	key = append(key, keyPrefix...)
	key = binary.BigEndian.AppendUint16(key, netuid)
	key = binary.BigEndian.AppendUint64(key, block)
	return key
}

func netuidBounds(netuid uint16) *pebble.IterOptions {
	lower := make([]byte, 0, len(keyPrefix)+2)
	lower = append(lower, keyPrefix...)
	lower = binary.BigEndian.AppendUint16(lower, netuid)
	upper := make([]byte, 0, len(keyPrefix)+2)
	upper = append(upper, keyPrefix...)
	upper = binary.BigEndian.AppendUint16(upper, netuid+1)
	if netuid == 0xffff {
		// netuid+1 wraps; bound by the next prefix byte instead.
		upper = append([]byte{}, keyPrefix...)
		upper[len(upper)-1]++
	}
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

// snapshotRecord is the on-disk JSON form.
type snapshotRecord struct {
	NetUID    uint16         `json:"netuid"`
	Block     uint64         `json:"block"`
	FetchedAt time.Time      `json:"fetched_at"`
	Neurons   []neuronRecord `json:"neurons"`
}

type neuronRecord struct {
	UID        uint16 `json:"uid"`
	Hotkey     string `json:"hotkey"`
	Coldkey    string `json:"coldkey"`
	Stake      uint64 `json:"stake"`
	Rank       uint16 `json:"rank"`
	Trust      uint16 `json:"trust"`
	Consensus  uint16 `json:"consensus"`
	Incentive  uint16 `json:"incentive"`
	Dividends  uint16 `json:"dividends"`
	Active     bool   `json:"active"`
	LastUpdate uint64 `json:"last_update"`
}

func toRecord(snap *domain.MetagraphSnapshot) snapshotRecord {
	rec := snapshotRecord{
		NetUID:    snap.NetUID,
		Block:     snap.BlockNumber,
		FetchedAt: snap.FetchedAt,
		Neurons:   make([]neuronRecord, len(snap.Neurons)),
	}
	for i, n := range snap.Neurons {
		rec.Neurons[i] = neuronRecord{
			UID:        n.UID,
			Hotkey:     n.Hotkey.String(),
			Coldkey:    n.Coldkey.String(),
			Stake:      n.Stake.Rao(),
			Rank:       uint16(n.Rank),
			Trust:      uint16(n.Trust),
			Consensus:  uint16(n.Consensus),
			Incentive:  uint16(n.Incentive),
			Dividends:  uint16(n.Dividends),
			Active:     n.Active,
			LastUpdate: n.LastUpdate,
		}
	}
	return rec
}

func decodeRecord(value []byte) (*domain.MetagraphSnapshot, error) {
	var rec snapshotRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot record: %w", err)
	}
	snap := &domain.MetagraphSnapshot{
		NetUID:      rec.NetUID,
		BlockNumber: rec.Block,
		FetchedAt:   rec.FetchedAt,
		Neurons:     make([]domain.NeuronRecord, len(rec.Neurons)),
	}
	for i, n := range rec.Neurons {
		hot, err := domain.ParseAddress(n.Hotkey)
		if err != nil {
			return nil, fmt.Errorf("neuron %d hotkey: %w", i, err)
		}
		cold, err := domain.ParseAddress(n.Coldkey)
		if err != nil {
			return nil, fmt.Errorf("neuron %d coldkey: %w", i, err)
		}
		snap.Neurons[i] = domain.NeuronRecord{
			UID:        n.UID,
			Hotkey:     hot,
			Coldkey:    cold,
			Stake:      domain.Balance(n.Stake),
			Rank:       domain.Score(n.Rank),
			Trust:      domain.Score(n.Trust),
			Consensus:  domain.Score(n.Consensus),
			Incentive:  domain.Score(n.Incentive),
			Dividends:  domain.Score(n.Dividends),
			Active:     n.Active,
			LastUpdate: n.LastUpdate,
		}
	}
	return snap, nil
}
