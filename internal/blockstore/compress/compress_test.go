package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the little block engine that could. ", 200))
	compressed, ok, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !ok {
		t.Fatal("Compress() expected ok=true for a compressible payload")
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("Compress() did not shrink payload: %d >= %d", len(compressed), len(payload))
	}

	decompressed, err := Decompress(compressed, len(payload))
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if !bytes.Equal(decompressed, payload) {
		t.Fatal("Decompress(Compress(payload)) != payload")
	}
}

func TestCompressEmptyPayload(t *testing.T) {
	compressed, ok, err := Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil) error: %v", err)
	}
	if ok {
		t.Fatal("Compress(nil) expected ok=false")
	}
	if compressed != nil {
		t.Fatal("Compress(nil) expected nil output")
	}
}

// TestCompressIncompressible exercises the "store raw unless smaller"
// policy: high-entropy input that doesn't shrink under LZ4 must come
// back with ok=false rather than a larger compressed blob.
func TestCompressIncompressible(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, ok, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if ok {
		t.Fatal("Compress() expected ok=false for incompressible payload")
	}
}
