package blockstore

import "github.com/elzor/vstorage/internal/blockstore/types"

// Sentinel error kinds, matching the engine's documented error table.
// Callers at the RPC/HTTP edge map these to status/gRPC codes.
var (
	ErrInvalidArgument = types.ErrInvalidArgument
	ErrNotFound        = types.ErrNotFound
	ErrAlreadyExists   = types.ErrAlreadyExists
	ErrTooLarge        = types.ErrTooLarge
	ErrLengthMismatch  = types.ErrLengthMismatch
	ErrNotModified     = types.ErrNotModified
	ErrNoCapacity      = types.ErrNoCapacity
	ErrIO              = types.ErrIO
	ErrMetaUnavailable = types.ErrMetaUnavailable
	ErrMetaCorrupt     = types.ErrMetaCorrupt
	// ErrUnsupported marks an operation this engine deliberately refuses
	// rather than reproduce a source defect's silent corruption — see
	// Engine.Upsert.
	ErrUnsupported = types.ErrUnsupported
)
