// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bucket implements the in-memory view over a fixed-size key
// file (or spill) block: a header followed by a sorted array of
// (hash, offset, size) entries, per spec §4.3.
package bucket

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/varint"
)

const (
	// HeaderSize is count:uint16 + spill:uint48.
	HeaderSize = 2 + 6
	// EntrySize is hash:uint64 + offset:uint48 + size:uint48.
	EntrySize = 8 + 6 + 6
)

// ErrFull is returned by Insert when the bucket has no room for
// another entry.
var ErrFull = errors.New("bucket full")

// ErrInconsistent is returned by Load when a block's self-consistency
// check fails: a torn or corrupt read produced a count exceeding
// capacity, or entries that are not sorted by hash. The caller is
// expected to retry the read.
var ErrInconsistent = errors.New("bucket block failed self-consistency check")

// Capacity returns the number of entries that fit in a block of
// blockSize bytes.
func Capacity(blockSize int) int {
	return (blockSize - HeaderSize) / EntrySize
}

// Entry is one (hash, offset, size) triple in a bucket.
type Entry struct {
	Hash   uint64
	Offset uint64
	Size   uint64
}

func less(a, b Entry) bool {
	if a.Hash != b.Hash {
		return a.Hash < b.Hash
	}
	return a.Offset < b.Offset
}

// View is a mutable view over an externally-owned block of bytes. The
// caller supplies the backing buffer (a bucket read from the key file,
// a spill payload, or a fresh in-memory block) and View reads and
// writes directly into it -- there is no separate serialize step.
type View struct {
	buf []byte
	cap int
}

// New wraps buf as a bucket view. buf's length is the block size.
func New(buf []byte) *View {
	return &View{buf: buf, cap: Capacity(len(buf))}
}

// InitEmpty resets the block to an empty bucket: count=0, spill=0.
func (v *View) InitEmpty() {
	for i := range v.buf {
		v.buf[i] = 0
	}
}

// Load validates the block's self-consistency: the stored count must
// not exceed capacity, and entries must be sorted ascending by hash
// (ties broken by offset). It returns ErrInconsistent on failure,
// which per spec §9 is the caller's cue to retry the read rather than
// trust a torn write.
func (v *View) Load() error {
	n := v.Count()
	if n > v.cap {
		return ErrInconsistent
	}
	prev := Entry{}
	for i := 0; i < n; i++ {
		e := v.Entry(i)
		if i > 0 && less(e, prev) {
			return ErrInconsistent
		}
		prev = e
	}
	return nil
}

// Count returns the number of entries currently stored.
func (v *View) Count() int {
	return int(varint.Uint16(v.buf[0:2]))
}

func (v *View) setCount(n int) {
	varint.PutUint16(v.buf[0:2], uint16(n))
}

// Spill returns the offset of this bucket's spill continuation record
// in the data file, or 0 if there is none.
func (v *View) Spill() uint64 {
	return varint.Uint48(v.buf[2:8])
}

// SetSpill sets the spill continuation offset.
func (v *View) SetSpill(off uint64) {
	varint.PutUint48(v.buf[2:8], off)
}

func (v *View) entryOffset(i int) int {
	return HeaderSize + i*EntrySize
}

// Entry returns the i'th entry, 0 <= i < Count().
func (v *View) Entry(i int) Entry {
	off := v.entryOffset(i)
	b := v.buf[off : off+EntrySize]
	return Entry{
		Hash:   varint.Uint64(b[0:8]),
		Offset: varint.Uint48(b[8:14]),
		Size:   varint.Uint48(b[14:20]),
	}
}

func (v *View) putEntry(i int, e Entry) {
	off := v.entryOffset(i)
	b := v.buf[off : off+EntrySize]
	varint.PutUint64(b[0:8], e.Hash)
	varint.PutUint48(b[8:14], e.Offset)
	varint.PutUint48(b[14:20], e.Size)
}

// Find returns the index of the first entry whose hash is >= hash
// (i.e. the lower bound), suitable both as a search start point and
// as an insertion position.
func (v *View) Find(hash uint64) int {
	n := v.Count()
	return sort.Search(n, func(i int) bool {
		return v.Entry(i).Hash >= hash
	})
}

// Full reports whether the bucket has no room for another entry.
func (v *View) Full() bool {
	return v.Count() >= v.cap
}

// Insert adds e to the bucket, keeping entries sorted by (hash,
// offset). It fails with ErrFull if the bucket has no room.
func (v *View) Insert(e Entry) error {
	n := v.Count()
	if n >= v.cap {
		return ErrFull
	}
	i := sort.Search(n, func(i int) bool {
		return !less(v.Entry(i), e)
	})
	for j := n; j > i; j-- {
		v.putEntry(j, v.Entry(j-1))
	}
	v.putEntry(i, e)
	v.setCount(n + 1)
	return nil
}

// Bytes returns the backing block, sized exactly to what a spill
// record needs to store (header + all live entries), for callers that
// write a bucket out as a spill payload rather than a full key-file
// block.
func (v *View) Bytes() []byte {
	return v.buf[:HeaderSize+v.Count()*EntrySize]
}

// Cap returns the entry capacity of the block this view wraps.
func (v *View) Cap() int {
	return v.cap
}
