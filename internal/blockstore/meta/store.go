package meta

import (
	"time"

	"github.com/elzor/vstorage/internal/blockstore/types"
)

// Store is the embedded metadata store's API. Every mutating method is a
// single atomic transaction; partial application is never observable.
type Store interface {
	GetBlock(id string) (*types.Block, error)
	ExistsBlock(id string) (bool, error)
	// PutBlockLive inserts a new live block row, debits the owning
	// bucket's available capacity and increments its block count in the
	// same transaction.
	PutBlockLive(b *types.Block) error
	// TombstoneBlock removes the live block row, inserts a tombstone
	// holding its final state, and credits the bucket's GC-pending size
	// while debiting its block count, atomically.
	TombstoneBlock(id string) error
	// PurgeTombstone removes a tombstone and returns its reclaimed space
	// to the bucket's available capacity, atomically.
	PurgeTombstone(id string) error
	// AppendBlock persists the post-append block row (new size and CRC)
	// and debits the bucket's available capacity by the appended byte
	// count, atomically. It does not touch OrigSize.
	AppendBlock(b *types.Block, appended int64) error
	// TouchBlockMeta updates only CRC and LastCheckTS on an existing
	// block row. Unlike PutBlockLive, it never adjusts bucket counters;
	// this is the Validator's dedicated write path.
	TouchBlockMeta(id, crc string, checkedAt time.Time) error
	IterBlocks(fn func(*types.Block) error) error
	DrainTombstones(limit int) ([]*types.Block, error)

	UpsertBucket(b *types.Bucket) error
	GetBucket(id string) (*types.Bucket, error)

	UpsertVolume(v *types.Volume) error
	GetVolume(id string) (*types.Volume, error)

	Close() error
}
