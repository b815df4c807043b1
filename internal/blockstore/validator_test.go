package blockstore

import (
	"os"
	"testing"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/digest"
)

func TestValidatorDetectsCorruption(t *testing.T) {
	engine, store := newTestEngine(t, 1<<20)

	block, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	// Force the block eligible for an immediate re-check.
	if err := store.TouchBlockMeta(block.ID, block.CRC, time.Time{}); err != nil {
		t.Fatalf("TouchBlockMeta() error: %v", err)
	}

	if err := os.WriteFile(block.Path, []byte("corrupted"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	validator := NewValidator(store, 0)
	validator.tick()

	got, err := store.GetBlock(block.ID)
	if err != nil {
		t.Fatalf("GetBlock() error: %v", err)
	}
	wantCRC := digest.Sum([]byte("corrupted"))
	if got.CRC != wantCRC {
		t.Fatalf("validator did not record the recomputed CRC: got %s, want %s", got.CRC, wantCRC)
	}
	if got.CRC == block.CRC {
		t.Fatal("validator failed to detect the corruption (CRC unchanged)")
	}
}

func TestValidatorSkipsRecentlyCheckedBlocks(t *testing.T) {
	engine, store := newTestEngine(t, 1<<20)

	block, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := os.WriteFile(block.Path, []byte("corrupted"), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	// checkIntervalDays=7 with a just-now LastCheckTS (set at insert)
	// means this block is not yet due for re-validation.
	validator := NewValidator(store, 7)
	validator.tick()

	got, err := store.GetBlock(block.ID)
	if err != nil {
		t.Fatalf("GetBlock() error: %v", err)
	}
	if got.CRC != block.CRC {
		t.Fatal("validator touched a block that was not due for re-check")
	}
}

func TestValidatorTouchDoesNotAdjustBucketCounters(t *testing.T) {
	engine, store := newTestEngine(t, 1<<20)

	block, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := store.TouchBlockMeta(block.ID, block.CRC, time.Time{}); err != nil {
		t.Fatalf("TouchBlockMeta() error: %v", err)
	}

	before, err := store.GetBucket(block.BucketID)
	if err != nil {
		t.Fatalf("GetBucket() error: %v", err)
	}

	validator := NewValidator(store, 0)
	validator.tick()

	after, err := store.GetBucket(block.BucketID)
	if err != nil {
		t.Fatalf("GetBucket() error: %v", err)
	}
	if before.AvailSizeBytes != after.AvailSizeBytes || before.CntBlocks != after.CntBlocks {
		t.Fatalf("validator tick changed bucket counters: before=%+v after=%+v", before, after)
	}
}

func TestValidatorStopIsClean(t *testing.T) {
	_, store := newTestEngine(t, 1<<20)
	validator := NewValidator(store, 7)
	validator.Start()
	validator.Stop()
}
