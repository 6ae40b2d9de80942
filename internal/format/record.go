// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import "github.com/nudb-go/nudb/internal/varint"

const (
	// DataRecordHeaderSize is the size of a data record's leading
	// size field: size:uint48 (non-zero).
	DataRecordHeaderSize = 6
	// SpillRecordHeaderSize is the size of a spill record's leading
	// fields: size:uint48 (=0 marker) | block_bytes:uint16.
	SpillRecordHeaderSize = 6 + 2

	// MaxValueSize is the largest value size uint48 can express.
	MaxValueSize = 1<<48 - 1
)

// PutDataRecordHeader writes a data record's leading size field.
// size must be non-zero (a zero size field marks a spill record).
func PutDataRecordHeader(buf []byte, size uint64) {
	varint.PutUint48(buf[:DataRecordHeaderSize], size)
}

// DataRecordSize reads a data record's leading size field.
func DataRecordSize(buf []byte) uint64 {
	return varint.Uint48(buf[:DataRecordHeaderSize])
}

// IsSpillMarker reports whether the 6-byte size field at the front of
// a record is the zero marker that introduces a spill record instead
// of a data record.
func IsSpillMarker(buf []byte) bool {
	return DataRecordSize(buf) == 0
}

// PutSpillRecordHeader writes a spill record's leading fields: the
// zero size marker followed by the byte length of the bucket block
// that follows.
func PutSpillRecordHeader(buf []byte, blockBytes uint16) {
	varint.PutUint48(buf[0:6], 0)
	varint.PutUint16(buf[6:8], blockBytes)
}

// SpillRecordBlockBytes reads the block-byte-length field of a spill
// record header. The caller must have already confirmed the leading
// size field is the zero marker.
func SpillRecordBlockBytes(buf []byte) uint16 {
	return varint.Uint16(buf[6:8])
}
