// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataRecordHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, DataRecordHeaderSize)
	PutDataRecordHeader(buf, 12345)
	require.Equal(t, uint64(12345), DataRecordSize(buf))
	require.False(t, IsSpillMarker(buf))
}

func TestSpillRecordHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, SpillRecordHeaderSize)
	PutSpillRecordHeader(buf, 4096)
	require.True(t, IsSpillMarker(buf))
	require.EqualValues(t, 4096, SpillRecordBlockBytes(buf))
}
