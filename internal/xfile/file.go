// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package xfile implements the platform file abstraction NuDB is built
// on: strictly positional reads and writes, explicit create/open/erase,
// and mode-based readahead hints. It plays the role the source's
// posix_file/win32_file pair played -- one implementation, backed by
// os.File, since the Go standard library already hides the platform
// difference those two existed to paper over.
package xfile

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mode selects the access pattern a File will be used with, which
// drives the readahead advice given to the OS.
type Mode int

const (
	// ModeScan is for sequential, forward-only access (bulk readers).
	ModeScan Mode = iota
	// ModeRead is for random point lookups (bucket and record reads).
	ModeRead
	// ModeAppend is for read+write access where writes only extend
	// the file (the data file during commit).
	ModeAppend
	// ModeWrite is the default read+write random-access mode (the key
	// file, whose buckets are updated in place).
	ModeWrite
)

// Kind categorizes the errors a File operation can fail with.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAlreadyExists
	KindShortRead
	KindShortWrite
	KindIO
)

// Error is returned by every File operation that fails.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// File is a positionally-addressed file: there is no implicit cursor,
// every read and write names its offset explicitly.
type File struct {
	f    *os.File
	mode Mode
	path string
}

// Create makes a new file at path, failing if one already exists.
func Create(mode Mode, path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, newErr("create", path, KindAlreadyExists, err)
		}
		return nil, newErr("create", path, KindIO, err)
	}
	file := &File{f: f, mode: mode, path: path}
	file.advise()
	return file, nil
}

// Open opens an existing file at path, failing if it does not exist.
func Open(mode Mode, path string) (*File, error) {
	flag := os.O_RDWR
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr("open", path, KindNotFound, err)
		}
		return nil, newErr("open", path, KindIO, err)
	}
	file := &File{f: f, mode: mode, path: path}
	file.advise()
	return file, nil
}

// Erase removes the file at path. It is not an error for the file to
// already be absent.
func Erase(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return newErr("erase", path, KindIO, err)
	}
	return nil
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// advise gives the OS a readahead hint based on the file's declared
// access mode. Failure to advise is not fatal -- it is a performance
// hint, not a correctness requirement.
func (f *File) advise() {
	var advice int
	switch f.mode {
	case ModeScan:
		advice = unix.FADV_SEQUENTIAL
	case ModeRead:
		advice = unix.FADV_RANDOM
	default:
		return
	}
	_ = unix.Fadvise(int(f.f.Fd()), 0, 0, advice)
}

// Size returns the current length of the file in bytes.
func (f *File) Size() (int64, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return 0, newErr("size", f.path, KindIO, err)
	}
	return fi.Size(), nil
}

// ReadAt reads exactly len(buf) bytes starting at offset off. It fails
// with KindShortRead if fewer bytes than requested were available.
func (f *File) ReadAt(off int64, buf []byte) error {
	n, err := f.f.ReadAt(buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return newErr("read", f.path, KindShortRead, err)
		}
		return newErr("read", f.path, KindIO, err)
	}
	if n != len(buf) {
		return newErr("read", f.path, KindShortRead, io.ErrUnexpectedEOF)
	}
	return nil
}

// WriteAt writes all of buf starting at offset off, retrying partial
// writes. It only fails with KindShortWrite if the OS refuses to make
// any further progress.
func (f *File) WriteAt(off int64, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.f.WriteAt(buf, off)
		if err != nil {
			return newErr("write", f.path, KindIO, err)
		}
		if n == 0 {
			return newErr("write", f.path, KindShortWrite, io.ErrShortWrite)
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

// Sync flushes the file's data and metadata to stable storage.
func (f *File) Sync() error {
	if err := f.f.Sync(); err != nil {
		return newErr("sync", f.path, KindIO, err)
	}
	return nil
}

// Truncate sets the length of the file to n bytes.
func (f *File) Truncate(n int64) error {
	if err := f.f.Truncate(n); err != nil {
		return newErr("truncate", f.path, KindIO, err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (f *File) Close() error {
	if err := f.f.Close(); err != nil {
		return newErr("close", f.path, KindIO, err)
	}
	return nil
}
