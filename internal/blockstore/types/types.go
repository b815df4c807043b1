// Package types holds the row types shared between the block engine and
// the metadata store. It exists to keep those two packages from
// importing each other: both depend on these definitions, neither
// depends on the other.
package types

import "time"

// HashFun enumerates the digest algorithms a caller may label a block
// with. vstorage always computes its own CRC independent of this field;
// HashFun/Hash are caller-supplied provenance, not verified by the engine.
type HashFun int

const (
	HashOther HashFun = iota
	HashMD5
	HashSHA128
	HashSHA256
	HashHGW128
	HashHGW256
)

// Block is a single stored object's metadata row, persisted in the
// "blocks" column family.
type Block struct {
	ID          string
	ObjectID    string
	VolumeID    string
	BucketID    string
	ContentType string
	HashFun     HashFun
	Hash        string
	CRC         string
	Size        int64
	OrigSize    int64
	Compressed  bool
	Path        string
	Created     time.Time
	LastCheckTS time.Time
}

// Volume represents one filesystem mount point hosting a set of buckets.
type Volume struct {
	ID          string
	Device      uint64
	Path        string
	Buckets     []string
	CntObjects  int64
	ActiveSlots int64
}

// Bucket is a fixed-capacity subdirectory of a Volume.
type Bucket struct {
	ID             string
	VolumeID       string
	Path           string
	CntBlocks      int64
	ActiveSlots    int64
	InitSizeBytes  int64
	AvailSizeBytes int64
	GCSizeBytes    int64
	TS             time.Time
}
