package blockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/log"
)

// BootstrapBucket creates (or reopens) bucket number seq under volumeID.
// initSizeBytes is only used the first time a bucket is created; on
// reopen the persisted row is authoritative and initSizeBytes is
// ignored (pass 0).
func BootstrapBucket(store meta.Store, volumeID string, seq int, volumePath string, initSizeBytes int64) (*Bucket, error) {
	id := bucketKey(seq, volumeID)
	path := filepath.Join(volumePath, strconv.Itoa(seq))
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create bucket dir %s: %w", path, err)
	}

	existing, err := store.GetBucket(id)
	if err == nil {
		log.WithBucketID(id).Debug().Msg("reopened existing bucket")
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("lookup bucket %s: %w", id, err)
	}

	b := &Bucket{
		ID:             id,
		VolumeID:       volumeID,
		Path:           path,
		InitSizeBytes:  initSizeBytes,
		AvailSizeBytes: initSizeBytes,
		TS:             time.Now().UTC(),
	}
	if err := store.UpsertBucket(b); err != nil {
		return nil, fmt.Errorf("persist bucket %s: %w", id, err)
	}
	return b, nil
}

// bucketKey formats the on-disk/key identity of a bucket: a zero-padded
// sequence number joined to its owning volume's id.
func bucketKey(seq int, volumeID string) string {
	return fmt.Sprintf("%05d-%s", seq, volumeID)
}
