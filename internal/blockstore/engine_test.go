package blockstore

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/elzor/vstorage/internal/blockstore/meta"
)

func newTestEngine(t *testing.T, blockSizeLimit int64) (*Engine, meta.Store) {
	t.Helper()
	store := newTestMetaStore(t)
	root := t.TempDir()
	vol, buckets, err := BootstrapVolume(store, root, 4096)
	if err != nil {
		t.Fatalf("BootstrapVolume() error: %v", err)
	}
	placer := NewPlacer([]*Volume{vol}, map[string][]*Bucket{vol.ID: buckets})
	return NewEngine(store, placer, blockSizeLimit), store
}

func TestEngineInsertGeneratesID(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	block, err := engine.Insert("", "obj-1", []byte("payload"), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if block.ID == "" {
		t.Fatal("Insert() with empty id did not generate one")
	}
}

func TestEngineInsertDuplicateRejected(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	if _, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{}); err != nil {
		t.Fatalf("first Insert() error: %v", err)
	}
	_, err := engine.Insert("block-1", "obj-1", []byte("other"), InsertOptions{})
	if err != ErrAlreadyExists {
		t.Fatalf("second Insert() error = %v, want ErrAlreadyExists", err)
	}
}

func TestEngineUpsertOverExistingRejected(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	if _, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	_, err := engine.Upsert("block-1", "obj-1", []byte("other"), InsertOptions{})
	if err == nil {
		t.Fatal("Upsert() over existing block expected an error")
	}
}

func TestEngineInsertExactlyAtLimitAccepted(t *testing.T) {
	engine, _ := newTestEngine(t, 8)
	payload := bytes.Repeat([]byte{1}, 8)
	if _, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{}); err != nil {
		t.Fatalf("Insert() at exact limit error: %v", err)
	}
}

func TestEngineInsertOverLimitRejected(t *testing.T) {
	engine, _ := newTestEngine(t, 8)
	payload := bytes.Repeat([]byte{1}, 9)
	_, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{})
	if err != ErrTooLarge {
		t.Fatalf("Insert() over limit error = %v, want ErrTooLarge", err)
	}
}

func TestEngineGetRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	payload := []byte("round trip payload")
	inserted, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	block, got, err := engine.Get("block-1", "", false)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q, want %q", got, payload)
	}
	if block.CRC != inserted.CRC {
		t.Fatalf("Get() CRC = %s, want %s", block.CRC, inserted.CRC)
	}
}

func TestEngineGetIfNoneMatchNotModified(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	inserted, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	_, _, err = engine.Get("block-1", inserted.CRC, false)
	if err != ErrNotModified {
		t.Fatalf("Get() with matching If-None-Match error = %v, want ErrNotModified", err)
	}
}

func TestEngineGetMissingReturnsNotFound(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	_, _, err := engine.Get("missing", "", false)
	if err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEngineCompressionRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	payload := bytes.Repeat([]byte("compressible payload content. "), 100)

	inserted, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{Compress: true})
	if err != nil {
		t.Fatalf("Insert() with compression error: %v", err)
	}
	if !inserted.Compressed {
		t.Fatal("Insert() with a compressible payload expected Compressed=true")
	}
	if inserted.Size >= inserted.OrigSize {
		t.Fatalf("compressed Size=%d not smaller than OrigSize=%d", inserted.Size, inserted.OrigSize)
	}

	_, got, err := engine.Get("block-1", "", false)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("Get() did not transparently decompress the payload")
	}

	_, raw, err := engine.Get("block-1", "", true)
	if err != nil {
		t.Fatalf("Get() with acceptCompressed error: %v", err)
	}
	if bytes.Equal(raw, payload) {
		t.Fatal("Get() with acceptCompressed returned decompressed bytes")
	}
}

// TestEngineCompressionRejectedForIncompressiblePayload exercises the
// "store raw unless smaller" policy end to end: a high-entropy payload
// that doesn't shrink under LZ4 must be stored uncompressed even when
// the caller requested compression.
func TestEngineCompressionRejectedForIncompressiblePayload(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	block, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{Compress: true})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if block.Compressed {
		t.Fatal("Insert() stored an incompressible payload as compressed")
	}
}

func TestEngineAppendRejectsCompressedBlock(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	payload := bytes.Repeat([]byte("compressible payload content. "), 100)
	block, err := engine.Insert("block-1", "obj-1", payload, InsertOptions{Compress: true})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if !block.Compressed {
		t.Fatal("expected payload to compress for this test to be meaningful")
	}

	_, err = engine.Append("block-1", []byte("more"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Append() to compressed block error = %v, want wrapping ErrInvalidArgument", err)
	}
}

func TestEngineAppendRecomputesCRCFromFullFile(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	block, err := engine.Insert("block-1", "obj-1", []byte("hello "), InsertOptions{})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	appended, err := engine.Append("block-1", []byte("world"))
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if appended.CRC == block.CRC {
		t.Fatal("Append() did not change the CRC")
	}

	_, payload, err := engine.Get("block-1", "", false)
	if err != nil {
		t.Fatalf("Get() after append error: %v", err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("Get() after append = %q, want %q", payload, "hello world")
	}
}

func TestEngineAppendOverLimitRejected(t *testing.T) {
	engine, _ := newTestEngine(t, 8)
	if _, err := engine.Insert("block-1", "obj-1", bytes.Repeat([]byte{1}, 8), InsertOptions{}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	_, err := engine.Append("block-1", []byte("x"))
	if err != ErrTooLarge {
		t.Fatalf("Append() over limit error = %v, want ErrTooLarge", err)
	}
}

func TestEngineDeleteThenGetNotFound(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	if _, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := engine.Delete("block-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	_, _, err := engine.Get("block-1", "", false)
	if err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestEngineDeleteTwiceNotIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, 1<<20)
	if _, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := engine.Delete("block-1"); err != nil {
		t.Fatalf("first Delete() error: %v", err)
	}
	if err := engine.Delete("block-1"); err != ErrNotFound {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestEngineInsertNoCapacity(t *testing.T) {
	store := newTestMetaStore(t)
	placer := NewPlacer(nil, nil)
	engine := NewEngine(store, placer, 1<<20)

	_, err := engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err != ErrNoCapacity {
		t.Fatalf("Insert() with no volumes error = %v, want ErrNoCapacity", err)
	}
}

// failOnPutStore wraps a real store and fails only PutBlockLive, so the
// write-then-commit ordering in Engine.writeBlock can be exercised
// without losing the rest of the store's behavior.
type failOnPutStore struct {
	meta.Store
}

func (failOnPutStore) PutBlockLive(*Block) error {
	return errors.New("simulated metadata commit failure")
}

// TestEngineInsertOrphansFileOnMetadataFailure exercises redesign flag
// #3's tolerated outcome directly: when the metadata commit fails after
// the file has already been written, the file is left on disk rather
// than unlinked.
func TestEngineInsertOrphansFileOnMetadataFailure(t *testing.T) {
	store := newTestMetaStore(t)
	root := t.TempDir()
	vol, buckets, err := BootstrapVolume(store, root, 4096)
	if err != nil {
		t.Fatalf("BootstrapVolume() error: %v", err)
	}
	placer := NewPlacer([]*Volume{vol}, map[string][]*Bucket{vol.ID: buckets})
	engine := NewEngine(failOnPutStore{store}, placer, 1<<20)

	_, err = engine.Insert("block-1", "obj-1", []byte("payload"), InsertOptions{})
	if err == nil {
		t.Fatal("Insert() with a failing metadata commit expected an error")
	}

	entries, err := os.ReadDir(buckets[0].Path)
	if err != nil {
		t.Fatalf("ReadDir(bucket path) error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("bucket directory has %d entries after failed insert, want 1 orphaned file", len(entries))
	}
}
