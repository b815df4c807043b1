// Package compress implements the block payload compression codec, an
// LZ4 block-format codec equivalent to the original's lz4_compress usage.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/lz4"
)

// Compress returns the LZ4 block-compressed form of src. The returned
// slice is only valid (and only ever returned) when it is strictly
// smaller than src — callers that want the "store raw unless smaller"
// policy from the engine should check the ok return rather than compare
// lengths themselves, since an empty payload never compresses smaller.
func Compress(src []byte) (dst []byte, ok bool, err error) {
	if len(src) == 0 {
		return nil, false, nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var table [1 << 16]int
	n, err := lz4.CompressBlock(src, buf, table[:])
	if err != nil {
		return nil, false, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return nil, false, nil
	}
	return buf[:n], true, nil
}

// Decompress expands an LZ4 block-compressed payload back to origSize
// bytes.
func Decompress(src []byte, origSize int) ([]byte, error) {
	dst := make([]byte, origSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
