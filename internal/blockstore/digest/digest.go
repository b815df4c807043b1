// Package digest computes the engine's internal integrity checksum.
//
// The original engine keyed a 128-bit HighwayHash with a fixed constant
// and formatted the two 64-bit halves with "{:x}{:x}", which produces a
// variable-width, lossy hex string whenever either half has leading zero
// nibbles. This package fixes that: it keys blake3 (a modern, widely
// available keyed hash) with an equivalent fixed constant, truncates the
// 256-bit output to its first 128 bits, and hex-encodes a fixed-size byte
// array so the result is always exactly 32 lowercase hex characters.
package digest

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// key is the fixed 32-byte key, chosen to mirror the original's
// fixed four-word HighwayHash key (0x0001..0x1f as consecutive bytes).
var key = [32]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
}

// Length is the digest size in bytes (128 bits).
const Length = 16

// Sum computes the keyed digest of payload, hex-encoded to exactly
// Length*2 == 32 lowercase characters.
func Sum(payload []byte) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// key is a fixed compile-time-correct 32-byte slice; NewKeyed
		// only fails on a wrong key length.
		panic("digest: invalid key length: " + err.Error())
	}
	h.Write(payload)
	full := h.Sum(nil)
	return hex.EncodeToString(full[:Length])
}
