package blockstore

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/compress"
	"github.com/elzor/vstorage/internal/blockstore/digest"
	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/log"
	"github.com/google/uuid"
)

const idLockStripes = 256

// Engine implements the block lifecycle state machine:
// absent -> live -> deleted (tombstoned) -> purged (purging is GC's job).
type Engine struct {
	store          meta.Store
	placer         *Placer
	blockSizeLimit int64
	stripes        [idLockStripes]sync.Mutex
}

// NewEngine constructs a BlockEngine over an already-open metadata store
// and placer.
func NewEngine(store meta.Store, placer *Placer, blockSizeLimitBytes int64) *Engine {
	return &Engine{store: store, placer: placer, blockSizeLimit: blockSizeLimitBytes}
}

// lockID serializes Insert/Append against the same block id. The source
// engine's existence-check-then-batch-commit in Insert was not atomic,
// so two concurrent inserts of the same id could both succeed (redesign
// flag #1); striping a lock on the id closes that window without
// serializing unrelated ids against each other.
func (e *Engine) lockID(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	idx := h.Sum32() % idLockStripes
	e.stripes[idx].Lock()
	return e.stripes[idx].Unlock
}

// Insert creates a new block. If id is empty a fresh UUID is generated.
func (e *Engine) Insert(id, objectID string, payload []byte, opts InsertOptions) (*Block, error) {
	if id == "" {
		id = uuid.New().String()
	}
	unlock := e.lockID(id)
	defer unlock()

	exists, err := e.store.ExistsBlock(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	return e.writeBlock(id, objectID, payload, opts)
}

// Upsert writes a new block's content and metadata like Insert, but
// reports an existing id as ErrUnsupported rather than ErrAlreadyExists.
// The source engine allowed this to run over an existing id,
// which overwrote the metadata row while leaking the previous file and
// its write slot (redesign flag #2). This rewrite refuses that case
// explicitly instead of reproducing it: callers that need true
// replace-in-place semantics should Delete then Insert.
func (e *Engine) Upsert(id, objectID string, payload []byte, opts InsertOptions) (*Block, error) {
	if id == "" {
		id = uuid.New().String()
	}
	unlock := e.lockID(id)
	defer unlock()

	exists, err := e.store.ExistsBlock(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: upsert over existing block %s", ErrUnsupported, id)
	}
	return e.writeBlock(id, objectID, payload, opts)
}

func (e *Engine) writeBlock(id, objectID string, payload []byte, opts InsertOptions) (*Block, error) {
	if int64(len(payload)) > e.blockSizeLimit {
		return nil, ErrTooLarge
	}

	slot, err := e.placer.Reserve()
	if err != nil {
		return nil, err
	}

	stored := payload
	compressed := false
	if opts.Compress {
		comp, ok, cerr := compress.Compress(payload)
		if cerr != nil {
			_ = e.placer.Release(slot)
			return nil, fmt.Errorf("%w: %v", ErrIO, cerr)
		}
		if ok {
			stored = comp
			compressed = true
		}
	}

	if err := os.WriteFile(slot.Path, stored, 0644); err != nil {
		_ = e.placer.Release(slot)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	now := time.Now().UTC()
	block := &Block{
		ID:          id,
		ObjectID:    objectID,
		VolumeID:    slot.VolumeID,
		BucketID:    slot.BucketID,
		ContentType: opts.ContentType,
		HashFun:     opts.HashFun,
		Hash:        opts.Hash,
		CRC:         digest.Sum(stored),
		Size:        int64(len(stored)),
		OrigSize:    int64(len(payload)),
		Compressed:  compressed,
		Path:        slot.Path,
		Created:     now,
		LastCheckTS: now,
	}

	if err := e.store.PutBlockLive(block); err != nil {
		_ = e.placer.Release(slot)
		// The written file is left in place, as the source engine did
		// (redesign flag #3); no block row references it. The
		// reconciliation sweep in block-migrate finds and removes
		// these files.
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := e.placer.Commit(slot); err != nil {
		log.WithBlockID(id).Error().Err(err).Msg("placer commit failed after metadata commit succeeded")
	}
	return block, nil
}

// Get returns a block's metadata and payload. If ifNoneMatch equals the
// block's CRC exactly, it returns ErrNotModified without reading the
// file. Unless acceptCompressed is true, a compressed block is
// transparently decompressed before being returned.
func (e *Engine) Get(id, ifNoneMatch string, acceptCompressed bool) (*Block, []byte, error) {
	block, err := e.store.GetBlock(id)
	if err != nil {
		return nil, nil, err
	}
	if ifNoneMatch != "" && ifNoneMatch == block.CRC {
		return block, nil, ErrNotModified
	}
	raw, err := os.ReadFile(block.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if block.Compressed && !acceptCompressed {
		payload, err := compress.Decompress(raw, int(block.OrigSize))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		return block, payload, nil
	}
	return block, raw, nil
}

// Exists reports whether a block row exists.
func (e *Engine) Exists(id string) (bool, error) {
	return e.store.ExistsBlock(id)
}

// Append adds extra bytes to the end of an existing block's file and
// recomputes its CRC from a full reread of the file (not just the
// appended tail), per the engine's integrity contract. OrigSize is left
// unchanged. Appending to a compressed block is rejected: the source
// engine appended raw bytes onto a possibly LZ4-compressed file,
// silently corrupting it (redesign flag #8).
func (e *Engine) Append(id string, extra []byte) (*Block, error) {
	unlock := e.lockID(id)
	defer unlock()

	block, err := e.store.GetBlock(id)
	if err != nil {
		return nil, err
	}
	if block.Compressed {
		return nil, fmt.Errorf("%w: cannot append to a compressed block", ErrInvalidArgument)
	}
	if block.Size+int64(len(extra)) > e.blockSizeLimit {
		return nil, ErrTooLarge
	}

	f, err := os.OpenFile(block.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	_, writeErr := f.Write(extra)
	closeErr := f.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, closeErr)
	}

	full, err := os.ReadFile(block.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	block.Size = int64(len(full))
	block.CRC = digest.Sum(full)

	if err := e.store.AppendBlock(block, int64(len(extra))); err != nil {
		return nil, err
	}
	return block, nil
}

// Delete tombstones a live block. The file itself is not unlinked here;
// GC reclaims it. Deleting an already-deleted (or never-existing) block
// is not idempotent at this layer — it returns ErrNotFound, matching the
// documented idempotence property (the second delete attempt observes
// NotFound, not a silent success).
func (e *Engine) Delete(id string) error {
	block, err := e.store.GetBlock(id)
	if err != nil {
		return err
	}
	if err := e.store.TombstoneBlock(id); err != nil {
		return err
	}
	e.placer.DeleteObject(block.VolumeID, block.BucketID)
	return nil
}
