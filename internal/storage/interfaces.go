package storage

import (
	"context"

	"subnetctl/internal/domain"
)

// SnapshotArchive persists metagraph snapshots for offline inspection
// and warm cache starts. Snapshots are immutable once written.
type SnapshotArchive interface {
	// Put stores a snapshot. Writing the same (netuid, block) twice
	// overwrites with identical content and is not an error.
	Put(ctx context.Context, snap *domain.MetagraphSnapshot) error

	// Latest returns the highest-block snapshot stored for netuid.
	// Returns ErrNotFound when none exists.
	Latest(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error)

	// At returns the snapshot stored for (netuid, block).
	// Returns ErrNotFound when none exists.
	At(ctx context.Context, netuid uint16, block uint64) (*domain.MetagraphSnapshot, error)

	// Blocks lists stored block numbers for netuid in ascending order.
	Blocks(ctx context.Context, netuid uint16) ([]uint64, error)

	// Close releases underlying resources.
	Close() error
}
