package meta

import (
	"fmt"
	"os"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/types"
	"github.com/elzor/vstorage/internal/log"
	bolt "go.etcd.io/bbolt"
)

var osStat = os.Stat

// Column families, one bbolt bucket each.
var (
	cfBlocks      = []byte("blocks")
	cfBuckets     = []byte("buckets")
	cfVolumes     = []byte("volumes")
	cfDeleteQueue = []byte("delete_queue")
	// cfMoveQueue is declared for on-disk layout parity with the
	// original engine but no operation in this codebase writes to it.
	cfMoveQueue = []byte("move_queue")
)

var allColumnFamilies = [][]byte{cfBlocks, cfBuckets, cfVolumes, cfDeleteQueue, cfMoveQueue}

// BoltStore is the bbolt-backed Store implementation. A KV open failure
// is fatal at bootstrap (the caller should treat NewBoltStore's error as
// unrecoverable); once open, read errors surface as ErrMetaUnavailable
// and decode errors as ErrMetaCorrupt rather than crashing.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the metadata database at path
// and ensures every column family bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range allColumnFamilies {
			if _, err := tx.CreateBucketIfNotExists(cf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap column families: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetBlock(id string) (*types.Block, error) {
	var b *types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cfBlocks).Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		decoded, err := decodeBlock(raw)
		if err != nil {
			log.WithComponent("meta").Error().Err(err).Str("block_id", id).Msg("corrupt block row")
			return types.ErrMetaCorrupt
		}
		b = decoded
		return nil
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return b, nil
}

func (s *BoltStore) ExistsBlock(id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(cfBlocks).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return exists, nil
}

func (s *BoltStore) PutBlockLive(b *types.Block) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(cfBlocks)
		buckets := tx.Bucket(cfBuckets)

		bkt, err := getBucketTx(buckets, b.BucketID)
		if err != nil {
			return err
		}
		bkt.CntBlocks++
		bkt.AvailSizeBytes -= b.Size

		if err := blocks.Put([]byte(b.ID), encodeBlock(b)); err != nil {
			return err
		}
		return buckets.Put([]byte(bkt.ID), encodeBucket(bkt))
	})
	if err != nil {
		if err == types.ErrMetaCorrupt {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) TombstoneBlock(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(cfBlocks)
		buckets := tx.Bucket(cfBuckets)
		deleteQueue := tx.Bucket(cfDeleteQueue)

		raw := blocks.Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		b, err := decodeBlock(raw)
		if err != nil {
			return types.ErrMetaCorrupt
		}

		bkt, err := getBucketTx(buckets, b.BucketID)
		if err != nil {
			return err
		}
		bkt.CntBlocks--
		bkt.GCSizeBytes += b.Size

		if err := blocks.Delete([]byte(id)); err != nil {
			return err
		}
		if err := deleteQueue.Put([]byte(id), raw); err != nil {
			return err
		}
		return buckets.Put([]byte(bkt.ID), encodeBucket(bkt))
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) PurgeTombstone(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buckets := tx.Bucket(cfBuckets)
		deleteQueue := tx.Bucket(cfDeleteQueue)

		raw := deleteQueue.Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		b, err := decodeBlock(raw)
		if err != nil {
			return types.ErrMetaCorrupt
		}

		bkt, err := getBucketTx(buckets, b.BucketID)
		if err != nil {
			return err
		}
		bkt.GCSizeBytes -= b.Size
		bkt.AvailSizeBytes += b.Size

		if err := deleteQueue.Delete([]byte(id)); err != nil {
			return err
		}
		return buckets.Put([]byte(bkt.ID), encodeBucket(bkt))
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) AppendBlock(b *types.Block, appended int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(cfBlocks)
		buckets := tx.Bucket(cfBuckets)

		if blocks.Get([]byte(b.ID)) == nil {
			return types.ErrNotFound
		}

		bkt, err := getBucketTx(buckets, b.BucketID)
		if err != nil {
			return err
		}
		bkt.AvailSizeBytes -= appended

		if err := blocks.Put([]byte(b.ID), encodeBlock(b)); err != nil {
			return err
		}
		return buckets.Put([]byte(bkt.ID), encodeBucket(bkt))
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) TouchBlockMeta(id, crc string, checkedAt time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(cfBlocks)
		raw := blocks.Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		b, err := decodeBlock(raw)
		if err != nil {
			return types.ErrMetaCorrupt
		}
		b.CRC = crc
		b.LastCheckTS = checkedAt
		return blocks.Put([]byte(id), encodeBlock(b))
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) IterBlocks(fn func(*types.Block) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(cfBlocks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			b, err := decodeBlock(v)
			if err != nil {
				log.WithComponent("meta").Error().Err(err).Str("block_id", string(k)).Msg("corrupt block row, skipping")
				continue
			}
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

// DrainTombstones returns up to limit tombstones in store iteration
// order. It does not remove them; callers purge individually via
// PurgeTombstone once the underlying file has been reclaimed.
func (s *BoltStore) DrainTombstones(limit int) ([]*types.Block, error) {
	var out []*types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(cfDeleteQueue).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			b, err := decodeBlock(v)
			if err != nil {
				log.WithComponent("meta").Error().Err(err).Str("block_id", string(k)).Msg("corrupt tombstone row, skipping")
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return out, nil
}

func (s *BoltStore) UpsertBucket(b *types.Bucket) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cfBuckets).Put([]byte(b.ID), encodeBucket(b))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) GetBucket(id string) (*types.Bucket, error) {
	var b *types.Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cfBuckets).Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		decoded, err := decodeBucket(raw)
		if err != nil {
			return types.ErrMetaCorrupt
		}
		b = decoded
		return nil
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return b, nil
}

func (s *BoltStore) UpsertVolume(v *types.Volume) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cfVolumes).Put([]byte(v.ID), encodeVolume(v))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return nil
}

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var v *types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cfVolumes).Get([]byte(id))
		if raw == nil {
			return types.ErrNotFound
		}
		decoded, err := decodeVolume(raw)
		if err != nil {
			return types.ErrMetaCorrupt
		}
		v = decoded
		return nil
	})
	if err != nil {
		if err == types.ErrNotFound || err == types.ErrMetaCorrupt {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrMetaUnavailable, err)
	}
	return v, nil
}

// getBucketTx reads and decodes a bucket row within an in-flight
// transaction; callers mutate the returned value and Put it back before
// the transaction commits.
func getBucketTx(buckets *bolt.Bucket, id string) (*types.Bucket, error) {
	raw := buckets.Get([]byte(id))
	if raw == nil {
		return nil, fmt.Errorf("bucket %s: %w", id, types.ErrNotFound)
	}
	b, err := decodeBucket(raw)
	if err != nil {
		return nil, types.ErrMetaCorrupt
	}
	return b, nil
}

// CFCounts returns the row count of the blocks, delete_queue, and
// move_queue column families, for StatusCollector's meta aggregate.
func (s *BoltStore) CFCounts() (blocks, deleteQueue, moveQueue int64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		blocks = int64(tx.Bucket(cfBlocks).Stats().KeyN)
		deleteQueue = int64(tx.Bucket(cfDeleteQueue).Stats().KeyN)
		moveQueue = int64(tx.Bucket(cfMoveQueue).Stats().KeyN)
		return nil
	})
	return
}

// Backup writes a consistent snapshot of the metadata database to dst
// using bbolt's transactional file copy inside a read transaction, so it
// can run while other goroutines write through the same open store.
// NewBoltStore takes bbolt's exclusive file lock, so a second process
// cannot open a database that a running daemon holds.
func (s *BoltStore) Backup(dst string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("create backup file: %w", err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		return err
	})
}

// DBSizeBytes returns the on-disk size of the meta database file, used by
// StatusCollector. bbolt keeps everything in a single file, so this is a
// stat rather than the original's recursive RocksDB directory walk.
func (s *BoltStore) DBSizeBytes() (int64, error) {
	fi, err := osStat(s.db.Path())
	if err != nil {
		return 0, fmt.Errorf("stat meta db: %w", err)
	}
	return fi.Size(), nil
}
