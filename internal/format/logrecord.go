// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import "github.com/nudb-go/nudb/internal/varint"

// LogRecordHeaderSize is the size of a log record's leading field: the
// index (within the key file) of the bucket whose before-image follows.
const LogRecordHeaderSize = 8

// PutLogRecordIndex writes a log record's bucket index field.
func PutLogRecordIndex(buf []byte, index uint64) {
	varint.PutUint64(buf[:LogRecordHeaderSize], index)
}

// LogRecordIndex reads a log record's bucket index field.
func LogRecordIndex(buf []byte) uint64 {
	return varint.Uint64(buf[:LogRecordHeaderSize])
}
