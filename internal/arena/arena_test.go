// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocCopiesAndIsolates(t *testing.T) {
	a := New(64)
	src := []byte("hello")
	got := a.Alloc(src)
	require.Equal(t, src, got)
	src[0] = 'X'
	require.Equal(t, byte('h'), got[0], "arena copy must not alias caller's buffer")
}

func TestAllocAcrossChunks(t *testing.T) {
	a := New(8)
	var bufs [][]byte
	for i := 0; i < 20; i++ {
		bufs = append(bufs, a.Alloc([]byte{byte(i), byte(i + 1), byte(i + 2)}))
	}
	for i, b := range bufs {
		require.Equal(t, []byte{byte(i), byte(i + 1), byte(i + 2)}, b)
	}
}

func TestOversizedAllocation(t *testing.T) {
	a := New(4)
	big := make([]byte, 100)
	for i := range big {
		big[i] = byte(i)
	}
	got := a.Alloc(big)
	require.Equal(t, big, got)
	require.Equal(t, 100, a.Used())
}

func TestReleaseResets(t *testing.T) {
	a := New(64)
	a.Alloc([]byte("abc"))
	require.Equal(t, 3, a.Used())
	a.Release()
	require.Equal(t, 0, a.Used())
}
