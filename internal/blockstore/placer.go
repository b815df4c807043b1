package blockstore

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Placer allocates write slots across registered volumes and buckets,
// load-balancing by object/block count rather than by free bytes.
//
// Capacity accounting (AvailSizeBytes/GCSizeBytes) lives exclusively in
// the persisted bucket row, owned by the metadata store — the original
// engine decremented AvailSizeBytes both here, on slot commit, and again
// in the metadata store's write batch, silently double-counting every
// write (redesign flag #4). This Placer tracks only the counters its
// load-balancing algorithm needs (CntObjects, CntBlocks, ActiveSlots) as
// an in-memory cache; it is rebuilt from the persisted rows at startup
// and never the other way around.
type Placer struct {
	mu          sync.Mutex
	volumeOrder []string
	volumes     map[string]*Volume
	bucketOrder map[string][]string
	buckets     map[string]*Bucket
}

// NewPlacer builds a Placer from the bootstrapped volumes and their
// buckets, preserving registration order for the load-balancing scan.
func NewPlacer(volumes []*Volume, bucketsByVolume map[string][]*Bucket) *Placer {
	p := &Placer{
		volumes:     make(map[string]*Volume),
		bucketOrder: make(map[string][]string),
		buckets:     make(map[string]*Bucket),
	}
	for _, v := range volumes {
		p.volumeOrder = append(p.volumeOrder, v.ID)
		p.volumes[v.ID] = v
		for _, b := range bucketsByVolume[v.ID] {
			p.bucketOrder[v.ID] = append(p.bucketOrder[v.ID], b.ID)
			p.buckets[b.ID] = b
		}
	}
	return p
}

func volumeLoad(v *Volume) int64 { return v.CntObjects + v.ActiveSlots }
func bucketLoad(b *Bucket) int64 { return b.CntBlocks + b.ActiveSlots }

// Reserve picks the least-loaded volume (in registration order, ties
// broken by the first candidate seen) and within it the least-loaded
// bucket, reserving a write slot with a fresh UUID-named file path.
// It returns ErrNoCapacity, with no counters left elevated, if there are
// no volumes or the chosen volume has no buckets.
func (p *Placer) Reserve() (*WriteSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.volumeOrder) == 0 {
		return nil, ErrNoCapacity
	}

	var chosenVolume *Volume
	var minVolumeLoad int64
	for i, id := range p.volumeOrder {
		v := p.volumes[id]
		load := volumeLoad(v)
		if i == 0 || load < minVolumeLoad {
			chosenVolume = v
			minVolumeLoad = load
		}
	}

	bucketIDs := p.bucketOrder[chosenVolume.ID]
	if len(bucketIDs) == 0 {
		return nil, ErrNoCapacity
	}

	var chosenBucket *Bucket
	var minBucketLoad int64
	for i, id := range bucketIDs {
		b := p.buckets[id]
		load := bucketLoad(b)
		if i == 0 || load < minBucketLoad {
			chosenBucket = b
			minBucketLoad = load
		}
	}

	chosenVolume.ActiveSlots++
	chosenBucket.ActiveSlots++

	return &WriteSlot{
		VolumeID: chosenVolume.ID,
		BucketID: chosenBucket.ID,
		Path:     filepath.Join(chosenBucket.Path, freshFileName()),
	}, nil
}

func freshFileName() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Commit finalizes a successful write: it releases the slot's reserved
// capacity and promotes it into the live object/block counts. Every
// Reserve must be terminated by exactly one Commit or Release.
func (p *Placer) Commit(slot *WriteSlot) error {
	if slot.resolved {
		return fmt.Errorf("write slot %s already resolved", slot.Path)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.volumes[slot.VolumeID]
	if !ok {
		return fmt.Errorf("commit: unknown volume %s", slot.VolumeID)
	}
	b, ok := p.buckets[slot.BucketID]
	if !ok {
		return fmt.Errorf("commit: unknown bucket %s", slot.BucketID)
	}

	v.ActiveSlots--
	b.ActiveSlots--
	v.CntObjects++
	b.CntBlocks++
	slot.resolved = true
	return nil
}

// Release abandons a reserved slot without promoting it to a live
// object, used when the write failed before the metadata batch
// committed.
func (p *Placer) Release(slot *WriteSlot) error {
	if slot.resolved {
		return fmt.Errorf("write slot %s already resolved", slot.Path)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.volumes[slot.VolumeID]; ok {
		v.ActiveSlots--
	}
	if b, ok := p.buckets[slot.BucketID]; ok {
		b.ActiveSlots--
	}
	slot.resolved = true
	return nil
}

// DeleteObject mirrors a successful tombstone into the in-memory cache so
// subsequent Reserve calls see accurate load without waiting for a
// restart to resync from the metadata store.
func (p *Placer) DeleteObject(volumeID, bucketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.volumes[volumeID]; ok {
		v.CntObjects--
	}
	if b, ok := p.buckets[bucketID]; ok {
		b.CntBlocks--
	}
}

// Snapshot returns a shallow copy of the volume/bucket load state for
// status reporting.
func (p *Placer) Snapshot() ([]Volume, []Bucket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vols := make([]Volume, 0, len(p.volumes))
	for _, id := range p.volumeOrder {
		vols = append(vols, *p.volumes[id])
	}
	bkts := make([]Bucket, 0, len(p.buckets))
	for _, id := range p.volumeOrder {
		for _, bid := range p.bucketOrder[id] {
			bkts = append(bkts, *p.buckets[bid])
		}
	}
	return vols, bkts
}
