// Package blockstore implements the block storage engine: placement,
// metadata persistence, the block lifecycle state machine, garbage
// collection, and background integrity validation.
package blockstore

import "github.com/elzor/vstorage/internal/blockstore/types"

// HashFun enumerates the digest algorithms a caller may label a block
// with. vstorage always computes its own CRC independent of this field;
// HashFun/Hash are caller-supplied provenance, not verified by the engine.
type HashFun = types.HashFun

const (
	HashOther  = types.HashOther
	HashMD5    = types.HashMD5
	HashSHA128 = types.HashSHA128
	HashSHA256 = types.HashSHA256
	HashHGW128 = types.HashHGW128
	HashHGW256 = types.HashHGW256
)

// Block is a single stored object's metadata row, persisted in the
// "blocks" column family.
type Block = types.Block

// Volume represents one filesystem mount point hosting a set of buckets.
type Volume = types.Volume

// Bucket is a fixed-capacity subdirectory of a Volume.
type Bucket = types.Bucket

// WriteSlot reserves a file path for a single write and must be resolved
// by exactly one call to Commit or Release.
type WriteSlot struct {
	VolumeID string
	BucketID string
	Path     string

	resolved bool
}

// InsertOptions carries the caller-supplied metadata for Insert/Upsert.
type InsertOptions struct {
	ContentType string
	Compress    bool
	HashFun     HashFun
	Hash        string
}
