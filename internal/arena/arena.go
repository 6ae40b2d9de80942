// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package arena implements the growable bump allocator NuDB uses to
// own key/value bytes between Insert and a successful commit (spec §9).
// Chunks are recycled through a free list rather than returned to the
// garbage collector, since the commit/insert cycle repeats constantly
// under steady-state load.
package arena

// Arena is a bump allocator over fixed-size chunks. It is not
// goroutine-safe; callers serialize access to it the same way they
// serialize access to the pending key/value sets it backs.
type Arena struct {
	chunkSize int
	free      [][]byte
	live      [][]byte // chunks currently handed out, kept alive by reference
	cur       []byte
	off       int
	used      int
}

// New returns an Arena that allocates chunkSize-byte chunks.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = 4 * 1024 * 1024
	}
	return &Arena{chunkSize: chunkSize}
}

// Used returns the number of bytes handed out since the last Release.
func (a *Arena) Used() int {
	return a.used
}

func (a *Arena) newChunk(size int) []byte {
	if len(a.free) > 0 && size <= a.chunkSize {
		n := len(a.free) - 1
		c := a.free[n]
		a.free[n] = nil
		a.free = a.free[:n]
		return c[:0]
	}
	if size < a.chunkSize {
		size = a.chunkSize
	}
	return make([]byte, 0, size)
}

// Alloc returns an n-byte slice copied from src, owned by the arena
// until Release is called.
func (a *Arena) Alloc(src []byte) []byte {
	n := len(src)
	if a.cur == nil || cap(a.cur)-len(a.cur) < n {
		if n > a.chunkSize {
			// oversized allocation: its own standalone chunk, not
			// pooled back onto the free list on Release.
			buf := make([]byte, n)
			copy(buf, src)
			a.live = append(a.live, buf)
			a.used += n
			return buf
		}
		a.cur = a.newChunk(a.chunkSize)
		a.live = append(a.live, a.cur)
	}
	start := len(a.cur)
	a.cur = a.cur[:start+n]
	copy(a.cur[start:], src)
	a.used += n
	return a.cur[start : start+n : start+n]
}

// Release returns every chunk-sized buffer owned by the arena to the
// free list (oversized standalone allocations are simply dropped) and
// resets the arena to empty.
func (a *Arena) Release() {
	for _, c := range a.live {
		if cap(c) == a.chunkSize {
			a.free = append(a.free, c[:0])
		}
	}
	a.live = a.live[:0]
	a.cur = nil
	a.used = 0
}
