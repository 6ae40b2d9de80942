// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 2, 63, 64, 126, 127, 128, 200, 1 << 16, 1 << 32,
		1<<48 - 1, 1<<63 - 1, 1<<64 - 1,
	}
	for _, v := range cases {
		buf := make([]byte, MaxLen64+1)
		n := Put(buf, v)
		require.Equal(t, Size(v), n)
		got, consumed := Read(buf)
		require.Equal(t, n, consumed)
		require.Equal(t, v, got)
	}
}

func TestReadShortBuffer(t *testing.T) {
	buf := []byte{0x80, 0x80}
	_, consumed := Read(buf)
	require.Equal(t, 0, consumed)
}

func TestReadEmpty(t *testing.T) {
	_, consumed := Read(nil)
	require.Equal(t, 0, consumed)
}

func TestZeroSpecialCase(t *testing.T) {
	buf := make([]byte, 1)
	n := Put(buf, 0)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0), buf[0])
	v, consumed := Read(buf)
	require.Equal(t, uint64(0), v)
	require.Equal(t, 1, consumed)
}

func TestFixedWidth48(t *testing.T) {
	var buf [6]byte
	const v = uint64(0x0102030405)
	PutUint48(buf[:], v)
	require.Equal(t, v, Uint48(buf[:]))
}

func TestFixedWidth24(t *testing.T) {
	var buf [3]byte
	const v = uint32(0x010203)
	PutUint24(buf[:], v)
	require.Equal(t, v, Uint24(buf[:]))
}
