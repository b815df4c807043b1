// Package meta implements the embedded metadata store: atomic batched
// persistence of volumes, buckets, blocks, and tombstones.
package meta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/types"
)

// The on-disk row format is a compact tag-length-value binary encoding:
// each field is [tag byte][uvarint length][value bytes]. An unknown tag
// encountered while decoding is skipped rather than rejected, so adding
// a new field to a row never breaks readers built against an older
// schema. This stands in for the protobuf wire format (which google.golang.org/protobuf
// also gives us, but only via generated *.pb.go code this environment
// cannot produce); see DESIGN.md for the full rationale.

type tlvWriter struct {
	buf bytes.Buffer
}

func (w *tlvWriter) field(tag byte, value []byte) {
	w.buf.WriteByte(tag)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(value)))
	w.buf.Write(lenBuf[:n])
	w.buf.Write(value)
}

func (w *tlvWriter) str(tag byte, s string)   { w.field(tag, []byte(s)) }
func (w *tlvWriter) bytesv(tag byte, b []byte) { w.field(tag, b) }

func (w *tlvWriter) i64(tag byte, v int64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	w.field(tag, b[:n])
}

func (w *tlvWriter) boolean(tag byte, v bool) {
	if v {
		w.field(tag, []byte{1})
	} else {
		w.field(tag, []byte{0})
	}
}

func (w *tlvWriter) ts(tag byte, t time.Time) {
	w.i64(tag, t.UnixNano())
}

func (w *tlvWriter) bytes() []byte { return w.buf.Bytes() }

type tlvField struct {
	tag   byte
	value []byte
}

func parseTLV(data []byte) ([]tlvField, error) {
	r := bytes.NewReader(data)
	var fields []tlvField
	for {
		tag, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tag: %w", err)
		}
		l, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		value := make([]byte, l)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("read value: %w", err)
		}
		fields = append(fields, tlvField{tag: tag, value: value})
	}
	return fields, nil
}

func fieldI64(f tlvField) (int64, error) {
	v, n := binary.Varint(f.value)
	if n <= 0 {
		return 0, fmt.Errorf("malformed varint field 0x%x", f.tag)
	}
	return v, nil
}

func fieldBool(f tlvField) bool {
	return len(f.value) > 0 && f.value[0] != 0
}

func fieldTime(f tlvField) (time.Time, error) {
	v, err := fieldI64(f)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, v).UTC(), nil
}

// Block row tags.
const (
	tagBlockID = iota + 1
	tagBlockObjectID
	tagBlockVolumeID
	tagBlockBucketID
	tagBlockContentType
	tagBlockHashFun
	tagBlockHash
	tagBlockCRC
	tagBlockSize
	tagBlockOrigSize
	tagBlockCompressed
	tagBlockPath
	tagBlockCreated
	tagBlockLastCheckTS
)

func encodeBlock(b *types.Block) []byte {
	w := &tlvWriter{}
	w.str(tagBlockID, b.ID)
	w.str(tagBlockObjectID, b.ObjectID)
	w.str(tagBlockVolumeID, b.VolumeID)
	w.str(tagBlockBucketID, b.BucketID)
	w.str(tagBlockContentType, b.ContentType)
	w.i64(tagBlockHashFun, int64(b.HashFun))
	w.str(tagBlockHash, b.Hash)
	w.str(tagBlockCRC, b.CRC)
	w.i64(tagBlockSize, b.Size)
	w.i64(tagBlockOrigSize, b.OrigSize)
	w.boolean(tagBlockCompressed, b.Compressed)
	w.str(tagBlockPath, b.Path)
	w.ts(tagBlockCreated, b.Created)
	w.ts(tagBlockLastCheckTS, b.LastCheckTS)
	return w.bytes()
}

func decodeBlock(data []byte) (*types.Block, error) {
	fields, err := parseTLV(data)
	if err != nil {
		return nil, err
	}
	b := &types.Block{}
	for _, f := range fields {
		switch f.tag {
		case tagBlockID:
			b.ID = string(f.value)
		case tagBlockObjectID:
			b.ObjectID = string(f.value)
		case tagBlockVolumeID:
			b.VolumeID = string(f.value)
		case tagBlockBucketID:
			b.BucketID = string(f.value)
		case tagBlockContentType:
			b.ContentType = string(f.value)
		case tagBlockHashFun:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.HashFun = types.HashFun(v)
		case tagBlockHash:
			b.Hash = string(f.value)
		case tagBlockCRC:
			b.CRC = string(f.value)
		case tagBlockSize:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.Size = v
		case tagBlockOrigSize:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.OrigSize = v
		case tagBlockCompressed:
			b.Compressed = fieldBool(f)
		case tagBlockPath:
			b.Path = string(f.value)
		case tagBlockCreated:
			t, err := fieldTime(f)
			if err != nil {
				return nil, err
			}
			b.Created = t
		case tagBlockLastCheckTS:
			t, err := fieldTime(f)
			if err != nil {
				return nil, err
			}
			b.LastCheckTS = t
		}
		// unknown tags are forward-compatible no-ops
	}
	return b, nil
}

// Bucket row tags.
const (
	tagBucketID = iota + 1
	tagBucketVolumeID
	tagBucketPath
	tagBucketCntBlocks
	tagBucketActiveSlots
	tagBucketInitSize
	tagBucketAvailSize
	tagBucketGCSize
	tagBucketTS
)

func encodeBucket(b *types.Bucket) []byte {
	w := &tlvWriter{}
	w.str(tagBucketID, b.ID)
	w.str(tagBucketVolumeID, b.VolumeID)
	w.str(tagBucketPath, b.Path)
	w.i64(tagBucketCntBlocks, b.CntBlocks)
	w.i64(tagBucketActiveSlots, b.ActiveSlots)
	w.i64(tagBucketInitSize, b.InitSizeBytes)
	w.i64(tagBucketAvailSize, b.AvailSizeBytes)
	w.i64(tagBucketGCSize, b.GCSizeBytes)
	w.ts(tagBucketTS, b.TS)
	return w.bytes()
}

func decodeBucket(data []byte) (*types.Bucket, error) {
	fields, err := parseTLV(data)
	if err != nil {
		return nil, err
	}
	b := &types.Bucket{}
	for _, f := range fields {
		switch f.tag {
		case tagBucketID:
			b.ID = string(f.value)
		case tagBucketVolumeID:
			b.VolumeID = string(f.value)
		case tagBucketPath:
			b.Path = string(f.value)
		case tagBucketCntBlocks:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.CntBlocks = v
		case tagBucketActiveSlots:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.ActiveSlots = v
		case tagBucketInitSize:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.InitSizeBytes = v
		case tagBucketAvailSize:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.AvailSizeBytes = v
		case tagBucketGCSize:
			v, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			b.GCSizeBytes = v
		case tagBucketTS:
			t, err := fieldTime(f)
			if err != nil {
				return nil, err
			}
			b.TS = t
		}
	}
	return b, nil
}

// Volume row tags.
const (
	tagVolumeID = iota + 1
	tagVolumeDevice
	tagVolumePath
	tagVolumeBuckets
	tagVolumeCntObjects
)

func encodeVolume(v *types.Volume) []byte {
	w := &tlvWriter{}
	w.str(tagVolumeID, v.ID)
	w.i64(tagVolumeDevice, int64(v.Device))
	w.str(tagVolumePath, v.Path)
	for _, bkt := range v.Buckets {
		w.str(tagVolumeBuckets, bkt)
	}
	w.i64(tagVolumeCntObjects, v.CntObjects)
	return w.bytes()
}

func decodeVolume(data []byte) (*types.Volume, error) {
	fields, err := parseTLV(data)
	if err != nil {
		return nil, err
	}
	v := &types.Volume{}
	for _, f := range fields {
		switch f.tag {
		case tagVolumeID:
			v.ID = string(f.value)
		case tagVolumeDevice:
			n, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			v.Device = uint64(n)
		case tagVolumePath:
			v.Path = string(f.value)
		case tagVolumeBuckets:
			v.Buckets = append(v.Buckets, string(f.value))
		case tagVolumeCntObjects:
			n, err := fieldI64(f)
			if err != nil {
				return nil, err
			}
			v.CntObjects = n
		}
	}
	return v, nil
}
