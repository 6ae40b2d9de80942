// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	h := DataHeader{Version: FormatVersion, UID: 1, AppNum: 2, KeySize: 8}
	buf := h.Marshal()
	require.Len(t, buf, DataHeaderSize)
	got, err := UnmarshalDataHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestKeyHeaderRoundTrip(t *testing.T) {
	h := KeyHeader{
		Version: FormatVersion, UID: 1, AppNum: 2, Salt: 3, Pepper: 4,
		BlockSize: 4096, KeySize: 8, LoadFactor: 50, Buckets: 100, Modulus: 128,
	}
	buf := h.Marshal()
	require.Len(t, buf, 4096)
	got, err := UnmarshalKeyHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestLogHeaderRoundTrip(t *testing.T) {
	h := LogHeader{
		Version: FormatVersion, UID: 1, AppNum: 2, KeySize: 8,
		Salt: 3, Pepper: 4, KeyFileSize: 5000, DatFileSize: 9000,
	}
	buf := h.Marshal()
	require.Len(t, buf, LogHeaderSize)
	got, err := UnmarshalLogHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestBadMagic(t *testing.T) {
	buf := make([]byte, DataHeaderSize)
	copy(buf, "notnudb!")
	_, err := UnmarshalDataHeader(buf)
	require.Error(t, err)
}

func TestBucketIndex(t *testing.T) {
	// buckets not a power of two; modulus is the next power of two.
	buckets := uint64(100)
	modulus := NextPow2(buckets)
	require.EqualValues(t, 128, modulus)

	for _, h := range []uint64{0, 1, 99, 100, 127, 128, 129, 1 << 40} {
		idx := BucketIndex(h, modulus, buckets)
		require.Less(t, idx, buckets)
	}
}

func TestNextPow2(t *testing.T) {
	cases := map[uint64]uint64{1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 100: 128, 128: 128, 129: 256}
	for in, want := range cases {
		require.Equal(t, want, NextPow2(in), "NextPow2(%d)", in)
	}
}
