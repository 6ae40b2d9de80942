// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newBlock(blockSize int) []byte {
	return make([]byte, blockSize)
}

func TestEmptyBucket(t *testing.T) {
	v := New(newBlock(512))
	v.InitEmpty()
	require.Equal(t, 0, v.Count())
	require.EqualValues(t, 0, v.Spill())
	require.NoError(t, v.Load())
}

func TestInsertSortedOrder(t *testing.T) {
	v := New(newBlock(512))
	v.InitEmpty()
	hashes := []uint64{50, 10, 30, 20, 40}
	for _, h := range hashes {
		require.NoError(t, v.Insert(Entry{Hash: h, Offset: h, Size: 1}))
	}
	require.Equal(t, len(hashes), v.Count())
	for i := 1; i < v.Count(); i++ {
		require.LessOrEqual(t, v.Entry(i-1).Hash, v.Entry(i).Hash)
	}
	require.NoError(t, v.Load())
}

func TestInsertTieBreaksByOffset(t *testing.T) {
	v := New(newBlock(512))
	v.InitEmpty()
	require.NoError(t, v.Insert(Entry{Hash: 5, Offset: 200, Size: 1}))
	require.NoError(t, v.Insert(Entry{Hash: 5, Offset: 100, Size: 1}))
	require.Equal(t, uint64(100), v.Entry(0).Offset)
	require.Equal(t, uint64(200), v.Entry(1).Offset)
}

func TestFind(t *testing.T) {
	v := New(newBlock(512))
	v.InitEmpty()
	for _, h := range []uint64{10, 20, 30} {
		require.NoError(t, v.Insert(Entry{Hash: h, Offset: h, Size: 1}))
	}
	require.Equal(t, 0, v.Find(5))
	require.Equal(t, 1, v.Find(20))
	require.Equal(t, 3, v.Find(31))
}

func TestFullReturnsErr(t *testing.T) {
	blockSize := HeaderSize + 2*EntrySize
	v := New(newBlock(blockSize))
	v.InitEmpty()
	require.NoError(t, v.Insert(Entry{Hash: 1, Offset: 1, Size: 1}))
	require.NoError(t, v.Insert(Entry{Hash: 2, Offset: 1, Size: 1}))
	require.True(t, v.Full())
	require.ErrorIs(t, v.Insert(Entry{Hash: 3, Offset: 1, Size: 1}), ErrFull)
}

func TestSpillPointer(t *testing.T) {
	v := New(newBlock(512))
	v.InitEmpty()
	v.SetSpill(9999)
	require.EqualValues(t, 9999, v.Spill())
}

func TestLoadDetectsBadCount(t *testing.T) {
	buf := newBlock(HeaderSize + EntrySize) // capacity 1
	v := New(buf)
	v.InitEmpty()
	// corrupt the count field directly to exceed capacity.
	buf[0] = 0xff
	buf[1] = 0xff
	require.ErrorIs(t, v.Load(), ErrInconsistent)
}

func TestCapacity(t *testing.T) {
	require.Equal(t, (4096-HeaderSize)/EntrySize, Capacity(4096))
}
