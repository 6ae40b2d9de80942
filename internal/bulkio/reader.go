// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bulkio

import (
	"io"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/xfile"
)

// Reader is the symmetric read-side streamer to Writer: a forward-only
// scan over a file using a large buffer, used by verify and rekey.
type Reader struct {
	f       *xfile.File
	buf     []byte
	pos     int // read position within buf
	filled  int // valid bytes currently in buf
	fileOff int64
	size    int64
}

// NewReader returns a Reader that scans f starting at startOffset,
// using a buffer of bufSize bytes (DefaultBufferSize if bufSize <= 0).
func NewReader(f *xfile.File, startOffset int64, bufSize int) (*Reader, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return &Reader{
		f:       f,
		buf:     make([]byte, bufSize),
		fileOff: startOffset,
		size:    size,
	}, nil
}

// Offset returns the absolute file offset of the next byte Read will
// return.
func (r *Reader) Offset() int64 {
	return r.fileOff - int64(r.filled-r.pos)
}

// Remaining reports how many bytes are left before EOF.
func (r *Reader) Remaining() int64 {
	return r.size - r.Offset()
}

// fill tops up the buffer from disk, sliding any unconsumed bytes to
// the front first. It never reads past r.size.
func (r *Reader) fill() error {
	remaining := r.filled - r.pos
	if remaining > 0 {
		copy(r.buf, r.buf[r.pos:r.filled])
	}
	r.filled = remaining
	r.pos = 0

	want := len(r.buf) - r.filled
	if avail := r.size - r.fileOff; int64(want) > avail {
		want = int(avail)
	}
	if want <= 0 {
		return nil
	}
	if err := r.f.ReadAt(r.fileOff, r.buf[r.filled:r.filled+want]); err != nil {
		return err
	}
	r.fileOff += int64(want)
	r.filled += want
	return nil
}

// Read returns the next n bytes as a slice valid until the next call
// to Read. Per spec §7's propagation policy, it returns io.EOF cleanly
// only when exactly zero bytes were available at the start of the
// call; if fewer than n bytes exist but at least one does, that is a
// mid-record short read and is reported as io.ErrUnexpectedEOF.
func (r *Reader) Read(n int) ([]byte, error) {
	if int64(n) > r.Remaining() {
		if r.Remaining() == 0 {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	if n > len(r.buf) {
		buf := make([]byte, n)
		if err := r.f.ReadAt(r.Offset(), buf); err != nil {
			return nil, errors.Wrap(err, "bulkio: read")
		}
		r.fileOff += int64(n) - int64(r.filled-r.pos)
		r.filled = 0
		r.pos = 0
		return buf, nil
	}
	for r.filled-r.pos < n {
		if err := r.fill(); err != nil {
			return nil, errors.Wrap(err, "bulkio: read")
		}
	}
	buf := r.buf[r.pos : r.pos+n]
	r.pos += n
	return buf, nil
}
