package blockstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/log"
)

// BootstrapVolume creates (or reopens) a volume rooted at path. The
// volume id is the SHA-1 hex of the canonicalized path, matching the
// original engine so that on-disk state stays addressable across
// rewrites. The bucket count is derived from the filesystem's total
// capacity divided by bucketSizeLimitBytes, minus one — the "-1"
// rounding is deliberately preserved (redesign flag #7) for on-disk
// compatibility rather than corrected to a capacity-maximizing formula.
func BootstrapVolume(store meta.Store, path string, bucketSizeLimitBytes int64) (*Volume, []*Bucket, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, nil, fmt.Errorf("create volume dir %s: %w", path, err)
	}
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve volume path %s: %w", path, err)
	}
	canonical, err = filepath.EvalSymlinks(canonical)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve volume symlinks %s: %w", path, err)
	}

	id := sha1Hex(canonical)

	var st syscall.Stat_t
	if err := syscall.Stat(canonical, &st); err != nil {
		return nil, nil, fmt.Errorf("stat volume %s: %w", canonical, err)
	}
	device := uint64(st.Dev)

	existing, err := store.GetVolume(id)
	if err == nil {
		log.WithVolumeID(id).Info().Str("path", canonical).Msg("reopened existing volume")
		var buckets []*Bucket
		for i, bktID := range existing.Buckets {
			bkt, err := BootstrapBucket(store, existing.ID, i+1, canonical, 0)
			if err != nil {
				return nil, nil, fmt.Errorf("reopen bucket %s: %w", bktID, err)
			}
			buckets = append(buckets, bkt)
		}
		return existing, buckets, nil
	}
	if err != ErrNotFound {
		return nil, nil, fmt.Errorf("lookup volume %s: %w", id, err)
	}

	var fsStat syscall.Statfs_t
	if err := syscall.Statfs(canonical, &fsStat); err != nil {
		return nil, nil, fmt.Errorf("statfs volume %s: %w", canonical, err)
	}
	totalBytes := int64(fsStat.Blocks) * int64(fsStat.Bsize)
	bucketCount := int(totalBytes/bucketSizeLimitBytes) - 1
	if bucketCount < 0 {
		bucketCount = 0
	}

	v := &Volume{
		ID:     id,
		Device: device,
		Path:   canonical,
	}
	var buckets []*Bucket
	for i := 1; i <= bucketCount; i++ {
		bkt, err := BootstrapBucket(store, id, i, canonical, bucketSizeLimitBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap bucket %d: %w", i, err)
		}
		v.Buckets = append(v.Buckets, bkt.ID)
		buckets = append(buckets, bkt)
	}

	if err := store.UpsertVolume(v); err != nil {
		return nil, nil, fmt.Errorf("persist volume %s: %w", id, err)
	}
	log.WithVolumeID(id).Info().Str("path", canonical).Int("buckets", len(v.Buckets)).Msg("bootstrapped new volume")
	return v, buckets, nil
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
