// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bulkio

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nudb-go/nudb/internal/xfile"
)

func TestWriterReserveAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := xfile.Create(xfile.ModeAppend, path)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, 0, 16)
	b1, off1, err := w.Reserve(4)
	require.NoError(t, err)
	require.EqualValues(t, 0, off1)
	copy(b1, "abcd")

	b2, off2, err := w.Reserve(4)
	require.NoError(t, err)
	require.EqualValues(t, 4, off2)
	copy(b2, "efgh")

	require.NoError(t, w.Flush())

	got := make([]byte, 8)
	require.NoError(t, f.ReadAt(0, got))
	require.Equal(t, "abcdefgh", string(got))
}

func TestWriterAutoFlushOnOverflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := xfile.Create(xfile.ModeAppend, path)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, 0, 4)
	b1, _, err := w.Reserve(4)
	require.NoError(t, err)
	copy(b1, "abcd")

	// this reservation doesn't fit alongside b1 in a 4-byte buffer, so
	// Reserve must flush first.
	b2, off2, err := w.Reserve(4)
	require.NoError(t, err)
	require.EqualValues(t, 4, off2)
	copy(b2, "efgh")
	require.NoError(t, w.Flush())

	got := make([]byte, 8)
	require.NoError(t, f.ReadAt(0, got))
	require.Equal(t, "abcdefgh", string(got))
}

func TestWriteDirect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := xfile.Create(xfile.ModeAppend, path)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, 0, 4096)
	b1, _, err := w.Reserve(3)
	require.NoError(t, err)
	copy(b1, "abc")

	off, err := w.WriteDirect([]byte("bigvalue"))
	require.NoError(t, err)
	require.EqualValues(t, 3, off)

	got := make([]byte, 11)
	require.NoError(t, f.ReadAt(0, got))
	require.Equal(t, "abcbigvalue", string(got))
}

func TestReaderStreams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := xfile.Create(xfile.ModeScan, path)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(0, []byte("0123456789")))
	defer f.Close()

	r, err := NewReader(f, 0, 4)
	require.NoError(t, err)

	got, err := r.Read(3)
	require.NoError(t, err)
	require.Equal(t, "012", string(got))

	got, err = r.Read(5)
	require.NoError(t, err)
	require.Equal(t, "34567", string(got))

	got, err = r.Read(2)
	require.NoError(t, err)
	require.Equal(t, "89", string(got))

	_, err = r.Read(1)
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderShortReadMidRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := xfile.Create(xfile.ModeScan, path)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(0, []byte("01234")))
	defer f.Close()

	r, err := NewReader(f, 0, 4)
	require.NoError(t, err)
	_, err = r.Read(10)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
