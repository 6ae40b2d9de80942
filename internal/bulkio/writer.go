// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bulkio implements the streaming bulk reader and writer used
// by the commit pipeline, rekey, and verify: large buffered I/O over a
// single file, with the writer handing back stable file offsets for
// data it has buffered but not yet flushed.
package bulkio

import (
	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/xfile"
)

// DefaultBufferSize is the default bulk I/O buffer size (spec §4.4).
const DefaultBufferSize = 64 * 1024 * 1024

// Writer buffers appends to a single file and reports, for each
// reservation, the absolute offset the data will occupy once flushed.
// This lets the commit pipeline interleave writing data records and
// spill records while always knowing exact on-disk offsets, even
// before those bytes have hit disk.
type Writer struct {
	f      *xfile.File
	buf    []byte
	filled int
	anchor int64 // file offset corresponding to buf[0]
}

// NewWriter returns a Writer that will append to f starting at
// startOffset, using a buffer of bufSize bytes (DefaultBufferSize if
// bufSize <= 0).
func NewWriter(f *xfile.File, startOffset int64, bufSize int) *Writer {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Writer{
		f:      f,
		buf:    make([]byte, bufSize),
		anchor: startOffset,
	}
}

// Offset returns the absolute file offset that the next Reserve call
// would return, i.e. the current logical end of the appended stream.
func (w *Writer) Offset() int64 {
	return w.anchor + int64(w.filled)
}

// Reserve returns a window of n bytes into the internal buffer for the
// caller to fill in place, plus the absolute offset that window will
// occupy once flushed. n must not exceed the buffer's capacity; use
// WriteDirect for reservations larger than the buffer.
func (w *Writer) Reserve(n int) ([]byte, int64, error) {
	if n > len(w.buf) {
		return nil, 0, errors.Errorf("bulkio: reservation of %d bytes exceeds buffer size %d, use WriteDirect", n, len(w.buf))
	}
	if w.filled+n > len(w.buf) {
		if err := w.Flush(); err != nil {
			return nil, 0, err
		}
	}
	off := w.Offset()
	buf := w.buf[w.filled : w.filled+n]
	w.filled += n
	return buf, off, nil
}

// WriteDirect flushes any pending buffered bytes and then writes data
// straight to the file, bypassing the internal buffer. It returns the
// absolute offset data was written at. Use this for reservations too
// large to sensibly copy through the buffer (oversized values).
func (w *Writer) WriteDirect(data []byte) (int64, error) {
	if err := w.Flush(); err != nil {
		return 0, err
	}
	off := w.anchor
	if err := w.f.WriteAt(off, data); err != nil {
		return 0, err
	}
	w.anchor += int64(len(data))
	return off, nil
}

// Flush writes all buffered bytes to disk and advances the anchor.
// It does not sync -- callers control fsync timing explicitly.
func (w *Writer) Flush() error {
	if w.filled == 0 {
		return nil
	}
	if err := w.f.WriteAt(w.anchor, w.buf[:w.filled]); err != nil {
		return err
	}
	w.anchor += int64(w.filled)
	w.filled = 0
	return nil
}
